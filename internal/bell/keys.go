package bell

import "github.com/charmbracelet/bubbles/key"

// KeyMap はベルのキー割り当て。
type KeyMap struct {
	Toggle  key.Binding
	Close   key.Binding
	Up      key.Binding
	Down    key.Binding
	Read    key.Binding
	ReadAll key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

// DefaultKeyMap はデフォルトのキー割り当てを返す。
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Toggle: key.NewBinding(
			key.WithKeys("b", " "),
			key.WithHelp("b", "開く/閉じる"),
		),
		Close: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "閉じる"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "上へ"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "下へ"),
		),
		Read: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "既読にする"),
		),
		ReadAll: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "すべて既読"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "再取得"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "終了"),
		),
	}
}
