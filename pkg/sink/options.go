package sink

import (
	"time"

	"go.uber.org/zap"

	"github.com/superlogger/superlogger/pkg/model"
)

const (
	DefaultCollectionName = "log"
	DefaultPollInterval   = 2 * time.Second

	// TimestampIndex names the single expiry index on timestamp.
	TimestampIndex = "timestamp_1"
)

type Options struct {
	// Store is required.
	Store Descriptor

	CollectionName     string
	Capped             bool
	CappedSize         int64
	CappedMax          int64
	ExpireAfterSeconds *int32

	// Decolorize strips ANSI escape sequences from messages before persisting.
	Decolorize bool
	// StoreHost attaches the process hostname to every document.
	StoreHost bool
	Label     string

	// MinLevel is a level name; empty accepts every level.
	MinLevel string

	PollInterval time.Duration

	// ConnectRetries bounds reconnection attempts for URI descriptors.
	// Zero tries once and leaves the sink pending on failure.
	ConnectRetries int

	// Logger is the operational error channel. The sink never logs to itself.
	Logger *zap.Logger

	OnLogged func(model.Document)
	OnError  func(error)
}

func (o Options) retention() model.RetentionConfig {
	return model.RetentionConfig{
		Capped:             o.Capped,
		CappedSize:         o.CappedSize,
		CappedMax:          o.CappedMax,
		ExpireAfterSeconds: o.ExpireAfterSeconds,
	}.Effective()
}

func (o Options) withDefaults() Options {
	if o.CollectionName == "" {
		o.CollectionName = DefaultCollectionName
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
