package model

// DefaultCappedSize is the capped collection size in bytes when none is configured.
const DefaultCappedSize int64 = 10_000_000

// RetentionConfig selects how old documents leave the collection: either a
// capped collection or a time based expiry index, never both.
type RetentionConfig struct {
	Capped             bool
	CappedSize         int64
	CappedMax          int64
	ExpireAfterSeconds *int32
}

// Effective returns the config with defaults applied and the mutually
// exclusive strategies resolved in favour of Capped.
func (r RetentionConfig) Effective() RetentionConfig {
	if r.Capped {
		if r.CappedSize <= 0 {
			r.CappedSize = DefaultCappedSize
		}
		r.ExpireAfterSeconds = nil
	}
	return r
}
