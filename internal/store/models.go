package store

import "time"

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	AvatarURL string    `json:"avatarURL,omitempty"`
	Group     string    `json:"group"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"-"`
}

// Counts are the per-bucket comment counters shared by categories and articles.
type Counts struct {
	All         int `json:"allCount"`
	Unprocessed int `json:"unprocessedCount"`
	Unmoderated int `json:"unmoderatedCount"`
	Moderated   int `json:"moderatedCount"`
	Deferred    int `json:"deferredCount"`
	Approved    int `json:"approvedCount"`
	Highlighted int `json:"highlightedCount"`
	Rejected    int `json:"rejectedCount"`
	Flagged     int `json:"flaggedCount"`
	Batched     int `json:"batchedCount"`
	Recommended int `json:"recommendedCount"`
}

type Category struct {
	ID                 string    `json:"id"`
	Label              string    `json:"label"`
	IsActive           bool      `json:"isActive"`
	UpdatedAt          time.Time `json:"updatedAt"`
	AssignedModerators []string  `json:"assignedModerators"`
	Counts
}

type Article struct {
	ID                  string    `json:"id"`
	SourceID            string    `json:"sourceId"`
	Title               string    `json:"title"`
	URL                 string    `json:"url"`
	CategoryID          *string   `json:"categoryId"`
	IsCommentingEnabled bool      `json:"isCommentingEnabled"`
	IsAutoModerated     bool      `json:"isAutoModerated"`
	UpdatedAt           time.Time `json:"updatedAt"`
	AssignedModerators  []string  `json:"assignedModerators"`
	Counts
}

type Tag struct {
	ID             string `json:"id"`
	Key            string `json:"key"`
	Label          string `json:"label"`
	Color          string `json:"color"`
	Description    string `json:"description"`
	IsInBatchView  bool   `json:"isInBatchView"`
	InSummaryScore bool   `json:"inSummaryScore"`
	IsTaggable     bool   `json:"isTaggable"`
}

type TaggingSensitivity struct {
	ID             string  `json:"id"`
	CategoryID     *string `json:"categoryId"`
	TagID          *string `json:"tagId"`
	LowerThreshold float64 `json:"lowerThreshold"`
	UpperThreshold float64 `json:"upperThreshold"`
}

type Rule struct {
	ID             string  `json:"id"`
	CategoryID     *string `json:"categoryId"`
	TagID          *string `json:"tagId"`
	LowerThreshold float64 `json:"lowerThreshold"`
	UpperThreshold float64 `json:"upperThreshold"`
	Action         string  `json:"action"`
}

type Preselect struct {
	ID             string  `json:"id"`
	CategoryID     *string `json:"categoryId"`
	TagID          *string `json:"tagId"`
	LowerThreshold float64 `json:"lowerThreshold"`
	UpperThreshold float64 `json:"upperThreshold"`
}

// GlobalSummary is what every signed-in moderator sees.
type GlobalSummary struct {
	Categories []Category `json:"categories"`
	Articles   []Article  `json:"articles"`
	Users      []User     `json:"users"`
	Deferred   int        `json:"deferred"`
}

// SystemSummary carries moderation configuration, visible to administrators.
type SystemSummary struct {
	Tags                 []Tag                `json:"tags"`
	TaggingSensitivities []TaggingSensitivity `json:"taggingSensitivities"`
	Rules                []Rule               `json:"rules"`
	Preselects           []Preselect          `json:"preselects"`
}

type UserSummary struct {
	Assignments int `json:"assignments"`
}
