package config

const DefaultSessionName = "vexia-session"

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Downstream: DownstreamConfig{
			URL:       "http://127.0.0.1:8000/webhook",
			TimeoutMs: 5000,
		},
		Session: SessionConfig{
			Name: DefaultSessionName,
		},
		Dispatch: DispatchConfig{
			BufferSize: 256,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
