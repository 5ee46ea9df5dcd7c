package types

// Verdict is the final tri-state outcome for a single image.
type Verdict string

const (
	VerdictOK      Verdict = "ok"
	VerdictNG      Verdict = "ng"
	VerdictUnknown Verdict = "unknown"
)

// Stage records which analysis tier produced a result. Only StageNano is
// produced today; mini/full are reserved for multi-tier escalation.
type Stage string

const (
	StageNano Stage = "nano"
	StageMini Stage = "mini"
	StageFull Stage = "full"
)

// ScoreLabels are the score keys the classification backend is instructed to
// return, each with a confidence in [0,1].
var ScoreLabels = []string{"hair_dust", "clutter", "quality", "unnatural"}

// PresenceKeys are the amenity keys tracked in presence evidence.
var PresenceKeys = []string{"key", "wifi", "heater", "tv"}

// ClassificationResponse is the normalized structured answer from the vision
// backend. Presence values are tri-state: true / false / nil (indeterminate).
type ClassificationResponse struct {
	Labels   []string           `json:"labels"`
	Scores   map[string]float64 `json:"scores"`
	Comments []string           `json:"comments"`
	Presence map[string]*bool   `json:"presence"`
}

// ImageResult is the finalized per-image outcome. Index is the stable
// position in the original input sequence.
type ImageResult struct {
	Index        int                `json:"index"`
	File         string             `json:"file"`
	Labels       []string           `json:"labels"`
	Scores       map[string]float64 `json:"scores"`
	Comments     []string           `json:"comments"`
	QualityFlags []string           `json:"quality_flags"`
	Verdict      Verdict            `json:"verdict"`
	Stage        Stage              `json:"stage"`
	Presence     map[string]*bool   `json:"presence"`
}

// JobSummary aggregates one batch. Verdict counts always partition the batch:
// OK+NG+Unknown equals the number of input images.
type JobSummary struct {
	OK               int              `json:"ok"`
	NG               int              `json:"ng"`
	Unknown          int              `json:"unknown"`
	CountsByStage    map[Stage]int    `json:"counts_by_stage"`
	PresenceEvidence map[string][]int `json:"presence_evidence"`
}

// ImageInput is one (filename, raw bytes) pair as handed over by the caller.
type ImageInput struct {
	Name string
	Data []byte
}

// Thresholds carries per-property overrides recognized by the pipeline.
type Thresholds struct {
	ConfTh           float64  `json:"conf_th"`
	OKWhitelist      []string `json:"OK_WHITELIST"`
	RecheckWhitelist []string `json:"RECHECK_WHITELIST"`
}

// Defaults carries tenant-level settings. The whitelist fields are
// newline-joined blocks of literal substrings, matching how operators edit
// them in the admin screen.
type Defaults struct {
	ConfTh            float64 `json:"conf_th"`
	OKWhitelistGlobal string  `json:"ok_whitelist_global"`
	OKWhitelist       string  `json:"ok_whitelist"`
}
