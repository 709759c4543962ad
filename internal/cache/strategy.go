package cache

// Confidence reflects how much a SelectStrategy decision is trusted: a
// decision from a known size is High, the large-files/long-history/
// monorepo override is Medium, and an unknown size is Low. Where the
// signals came from (fresh probe or analysis cache) does not affect it.
type Confidence int

const (
	Low Confidence = iota
	Medium
	High
)

// StrategyConfig names the thresholds the decision table compares signals
// against. Zero values are replaced with sane defaults.
type StrategyConfig struct {
	ShallowSizeBytes   int64 // below this, use a full clone; above, consider shallow+
	TreelessSizeBytes  int64 // above this, prefer treeless
	BloblessSizeBytes  int64 // above this, prefer blobless
	LargeCommitCount    int64
}

func (c StrategyConfig) withDefaults() StrategyConfig {
	if c.ShallowSizeBytes <= 0 {
		c.ShallowSizeBytes = 50 * 1024 * 1024 // 50MB
	}
	if c.TreelessSizeBytes <= 0 {
		c.TreelessSizeBytes = 500 * 1024 * 1024 // 500MB
	}
	if c.BloblessSizeBytes <= 0 {
		c.BloblessSizeBytes = 2 * 1024 * 1024 * 1024 // 2GB
	}
	if c.LargeCommitCount <= 0 {
		c.LargeCommitCount = 100_000
	}
	return c
}

// SelectStrategy implements the clone-strategy decision table: small,
// young repositories get a full clone; larger ones progressively trade
// completeness for footprint, in order shallow -> treeless -> blobless.
// A repository with unusually large individual files or a very long
// commit history is nudged toward blobless regardless of total size,
// since those are exactly the repositories where a full clone is
// expensive for reasons total size alone doesn't capture.
func SelectStrategy(signals RepoSignals, cfg StrategyConfig) (Strategy, Confidence) {
	cfg = cfg.withDefaults()

	if signals.HasLargeFiles || signals.CommitCount > cfg.LargeCommitCount || signals.IsMonorepo {
		return StrategyBlobless, Medium
	}

	switch {
	case signals.EstimatedSizeBytes <= 0:
		return StrategyAuto, Low
	case signals.EstimatedSizeBytes < cfg.ShallowSizeBytes:
		return StrategyFull, High
	case signals.EstimatedSizeBytes < cfg.TreelessSizeBytes:
		return StrategyShallow, High
	case signals.EstimatedSizeBytes < cfg.BloblessSizeBytes:
		return StrategyTreeless, High
	default:
		return StrategyBlobless, High
	}
}
