package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			LogFile:  "~/.papernav/papernav.log",
		},
		Backend: BackendConfig{
			BaseURL:    "http://127.0.0.1:8000",
			UploadPath: "/upload_pdf/",
			AskPath:    "/ask/",
		},
		Upload: UploadConfig{
			MaxSizeMB: 50,
		},
		UI: UIConfig{
			Mode:         "auto",
			Markdown:     true,
			GlamourStyle: "dark",
		},
		Transcript: TranscriptConfig{
			Enabled: false,
			DBPath:  "~/.papernav/transcript.db",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				MaxFileMB: 20,
			},
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Addr:     "127.0.0.1:9464",
			Endpoint: "/metrics",
		},
	}
}
