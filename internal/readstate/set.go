package readstate

// Set は既読IDの集合。追加順を保持する。
// ゼロ値は空集合として使える。
type Set struct {
	ids   []string
	index map[string]struct{}
}

// NewSet は追加順を保ったまま重複を除いた集合を生成する。
func NewSet(ids ...string) Set {
	var s Set
	for _, id := range ids {
		s.add(id)
	}
	return s
}

// Contains はIDが集合に含まれるかを返す。
func (s Set) Contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Len は要素数を返す。
func (s Set) Len() int {
	return len(s.ids)
}

// IDs は追加順のIDのコピーを返す。
func (s Set) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

func (s *Set) add(id string) bool {
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.ids = append(s.ids, id)
	return true
}
