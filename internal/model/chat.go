package model

type ChatSession struct {
	ID     int64  `json:"id"`
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Ctime  int64  `json:"ctime"`
}

type ChatMessage struct {
	ID        int64  `json:"id"`
	SessionID int64  `json:"session_id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Model     string `json:"model"`
	Ctime     int64  `json:"ctime"`
}
