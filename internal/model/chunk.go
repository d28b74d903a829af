package model

type Chunk struct {
	ID        int64     `json:"id"`
	SourceID  int64     `json:"source_id"`
	Order     int       `json:"order"`
	Content   string    `json:"content"`
	Embedding []float64 `json:"-"`
	Ctime     int64     `json:"ctime"`
}

type SearchResult struct {
	ChunkID    int64   `json:"chunk_id"`
	SourceID   int64   `json:"source_id"`
	Order      int     `json:"order"`
	Content    string  `json:"content"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
}
