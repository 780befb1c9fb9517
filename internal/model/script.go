package model

// Scene はスクリプト内の1シーンを表す。
type Scene struct {
	Text         string `json:"text"`
	OnScreenText string `json:"onScreenText"`
}

// Script はLLMが生成するショート動画スクリプト一式を表す。
// JSONフィールド名はモバイルクライアントが期待するレスポンス形と一致させる。
type Script struct {
	Topic   string   `json:"topic"`
	Hooks   []string `json:"hooks"`
	Script  []Scene  `json:"script"`
	Broll   []string `json:"broll"`
	CTA     string   `json:"cta"`
	Caption string   `json:"caption"`
}
