package config

const (
	// TopicIndexRebuild carries requests to rebuild the vector index.
	TopicIndexRebuild = "index.rebuild"

	// ChannelRebuild is the channel the backend consumes rebuild requests on.
	ChannelRebuild = "backend"
)
