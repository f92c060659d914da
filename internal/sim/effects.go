package sim

// SkillType tags a one-shot skill effect.
type SkillType string

const (
	SkillImpact SkillType = "impact"
	SkillDummy  SkillType = "dummy"
)

// SkillEffect is a replay hint for observers connected at the moment a
// skill fired. It is transmitted at most once: the effect log is drained on
// every snapshot read and never persisted.
type SkillEffect struct {
	ID        int64     `json:"id"`
	Type      SkillType `json:"type"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Radius    float64   `json:"radius,omitempty"`
	Timestamp int64     `json:"timestamp"`
}
