package store

import "time"

// RunModel is the GORM model for one benchmark run.
type RunModel struct {
	ID            string `gorm:"primaryKey"`
	Benchmark     string `gorm:"index;not null"`
	Repo          string `gorm:"not null"`
	PRNumber      int    `gorm:"not null"`
	Strategy      string `gorm:"not null"`
	ToolVersion   string
	Status        string `gorm:"not null;default:'running'"`
	SessionID     string
	FinalMode     string
	Escalated     bool
	Total         int
	OK            int
	Errors        int
	MemoryChecks  int
	MemoryPassed  int
	Refreshes     int
	AvgLatencyMs  int64
	FailureReason string
	ResultsPath   string
	StartedAt     time.Time `gorm:"index"`
	FinishedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Answers []AnswerModel `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

func (RunModel) TableName() string {
	return "runs"
}

// AnswerModel is the GORM model for one question/answer record.
type AnswerModel struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	RunID           string `gorm:"index;not null"`
	Idx             int    `gorm:"not null"`
	Turn            int
	Question        string `gorm:"not null"`
	Answer          string
	Outcome         string `gorm:"not null"`
	Mode            string
	SessionID       string
	Attempts        int
	Truncated       bool
	Error           string
	Detailed        bool
	MemoryReference bool
	LatencyMs       int64
	AskedAt         time.Time
	CreatedAt       time.Time
}

func (AnswerModel) TableName() string {
	return "answers"
}
