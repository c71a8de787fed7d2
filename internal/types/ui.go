package types

type UIConfig struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	CenterX int    `json:"center_x"`
	CenterY int    `json:"center_y"`
}

type UISample struct {
	Type        string  `json:"type"`
	Sequence    uint64  `json:"seq"`
	Raw         uint16  `json:"raw"`
	Temperature float64 `json:"temperature_c"`
	Text        string  `json:"text"`
}
