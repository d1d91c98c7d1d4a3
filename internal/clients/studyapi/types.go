package studyapi

import "time"

// Artifact is one generated study artifact as the collaborator lists it.
type Artifact struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type listArtifactsResponse struct {
	Items []Artifact `json:"items"`
}

type progressRecord struct {
	Completed            bool      `json:"completed"`
	Correct              bool      `json:"correct"`
	ConsecutiveIncorrect int       `json:"consecutiveIncorrect"`
	UserAnswer           string    `json:"userAnswer"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

type markLine struct {
	ID              string  `json:"id,omitempty"`
	Requirement     string  `json:"requirement"`
	PointsAvailable float64 `json:"pointsAvailable"`
	PointsAchieved  float64 `json:"pointsAchieved"`
	Feedback        string  `json:"feedback,omitempty"`
}

type gradeRequest struct {
	WorksheetID string `json:"worksheetId"`
	QuestionID  string `json:"questionId"`
	Answer      string `json:"answer"`
}

type gradeResponse struct {
	IsCorrect     bool            `json:"isCorrect"`
	MarkBreakdown []markLine      `json:"markBreakdown,omitempty"`
	Progress      *progressRecord `json:"progress,omitempty"`
}

type writeProgressRequest struct {
	ProblemID string `json:"problemId"`
	Completed bool   `json:"completed"`
	Correct   bool   `json:"correct"`
	Answer    string `json:"answer"`
}
