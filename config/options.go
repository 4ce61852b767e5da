package config

import "time"

var (
	ChartsRequestTimeout      = 10 * time.Second
	StreamsRequestTimeout     = 10 * time.Second
	AudioDownloadTimeout      = 2 * time.Minute
	ArtworkDownloadTimeout    = 30 * time.Second
	ObjectHeadTimeout         = 10 * time.Second
	ObjectPutTimeout          = 2 * time.Minute
	StoreOperationTimeout     = 10 * time.Second
	TelegramShutdownGrace     = 5 * time.Second
	TelegramSendReportTimeout = 30 * time.Second
)
