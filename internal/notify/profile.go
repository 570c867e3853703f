package notify

import (
	"fmt"
	"slices"
	"time"
)

// 結合先が欠けている場合に使う表示用テキスト。
const (
	placeholderJobTitle  = "不明な求人"
	placeholderApplicant = "応募者"
	placeholderCompany   = "所属不明"
)

// 応募の状態。
const (
	statusAccepted = "accepted"
	statusRejected = "rejected"
)

// Profile はロールごとの通知導出規則。
// Aggregatorはこれだけを差し替えて両ロールに対応する。
type Profile struct {
	// Role は対象ロール。
	Role Role
	// Lookback は取得期間。0以下なら期間で絞り込まない。
	Lookback time.Duration
	// Types はこのロールで表示する通知種別。
	Types []Type

	derive func(ApplicationEvent) (DerivedEvent, bool)
}

// ManagerProfile は求人掲載者向けの規則を返す。
// 自分の求人への応募を新規応募として通知する。期間の制限はない。
func ManagerProfile() Profile {
	return Profile{
		Role:   RoleManager,
		Types:  []Type{TypeProfileView, TypeNewApplication},
		derive: deriveNewApplication,
	}
}

// SuperintendentProfile は応募者向けの規則を返す。
// 直近30日に承認または不採用になった自分の応募を通知する。
func SuperintendentProfile() Profile {
	return Profile{
		Role:     RoleSuperintendent,
		Lookback: 30 * 24 * time.Hour,
		Types:    []Type{TypeProfileView, TypeApplicationAccepted, TypeApplicationRejected},
		derive:   deriveApplicationOutcome,
	}
}

// ProfileFor はロールに対応する規則を返す。
func ProfileFor(role Role) (Profile, error) {
	switch role {
	case RoleManager:
		return ManagerProfile(), nil
	case RoleSuperintendent:
		return SuperintendentProfile(), nil
	default:
		return Profile{}, fmt.Errorf("未知のロール: %q", role)
	}
}

// Allows は通知種別がこのロール宛てに送れるものかを返す。
func (p Profile) Allows(t Type) bool {
	return slices.Contains(p.Types, t)
}

// Since は取得期間の開始日時を返す。期間の制限がなければゼロ値。
func (p Profile) Since(now time.Time) time.Time {
	if p.Lookback <= 0 {
		return time.Time{}
	}
	return now.Add(-p.Lookback)
}

// Derive は結合行から派生イベントを生成する。対象外の行はfalseを返す。
func (p Profile) Derive(ev ApplicationEvent) (DerivedEvent, bool) {
	if p.derive == nil || ev.ApplicationID == "" {
		return DerivedEvent{}, false
	}
	return p.derive(ev)
}

func deriveApplicationOutcome(ev ApplicationEvent) (DerivedEvent, bool) {
	job := orDefault(ev.JobTitle, placeholderJobTitle)

	d := DerivedEvent{
		ID:            DerivedID(ev.ApplicationID),
		ApplicationID: ev.ApplicationID,
		CreatedAt:     ev.Timestamp,
	}
	switch ev.Status {
	case statusAccepted:
		d.Type = TypeApplicationAccepted
		d.Title = "応募が承認されました"
		d.Message = fmt.Sprintf("「%s」への応募が承認されました。", job)
	case statusRejected:
		d.Type = TypeApplicationRejected
		d.Title = "応募結果のお知らせ"
		d.Message = fmt.Sprintf("「%s」への応募は今回見送りとなりました。", job)
	default:
		return DerivedEvent{}, false
	}
	return d, true
}

func deriveNewApplication(ev ApplicationEvent) (DerivedEvent, bool) {
	return DerivedEvent{
		ID:            DerivedID(ev.ApplicationID),
		ApplicationID: ev.ApplicationID,
		Type:          TypeNewApplication,
		Title:         "新しい応募があります",
		Message: fmt.Sprintf("%s（%s）が「%s」に応募しました。",
			orDefault(ev.CounterpartyName, placeholderApplicant),
			orDefault(ev.CounterpartyCompany, placeholderCompany),
			orDefault(ev.JobTitle, placeholderJobTitle),
		),
		CreatedAt: ev.Timestamp,
	}, true
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
