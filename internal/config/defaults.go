package config

const (
	defaultConfigPath             = "~/.config/atlas/config.toml"
	defaultDataDir                = "~/.local/share/atlas"
	defaultSubscriptionsFile      = "~/.config/atlas/subscriptions.yaml"
	defaultUserAgent              = "Atlas/1.0 (+https://github.com/atlas; podcast ingestion)"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultWhisperXModel          = "large-v3"
	defaultVADMethod              = "silero"
	defaultLLMBaseURL             = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel               = "google/gemini-3-flash-preview"
	defaultLLMTitle               = "Atlas Question Engine"
	defaultLLMTimeoutSeconds      = 30
	defaultServiceAURL            = "https://podscripts.co/podcasts/{show}"
	defaultServiceBURL            = "https://www.podscribe.com/search?q={query}"
	defaultSearchURL              = "https://html.duckduckgo.com/html/?q={query}"
	defaultMinTranscriptLength    = 500
	defaultDiscoveryDelayMS       = 1000
	defaultJobFailureThreshold    = 5
	defaultMetadataCacheEntries   = 1024
	defaultMetadataCacheTTLSecond = 300
)

// DefaultCatalogFile is the catalog file name under the data directory.
const DefaultCatalogFile = "atlas_unified.db"

// Signal names accepted by [ad_detection].signals.
const (
	SignalChapter = "chapter"
	SignalText    = "text"
	SignalAudio   = "audio"
)

// Discovery method names accepted by [discovery].methods, in sweep order.
const (
	MethodServiceA  = "service_a"
	MethodServiceB  = "service_b"
	MethodPublisher = "publisher"
	MethodSearch    = "search"
)

var (
	defaultChapterMarkers = []string{
		"sponsor", "sponsored", "advertisement", "ad break", "ads", "promo", "commercial",
	}
	defaultAdPhrases = []string{
		"brought to you by",
		"sponsored by",
		"thanks to our sponsor",
		"this episode is supported by",
		"this episode is brought to you by",
		"promo code",
		"use code",
		"offer code",
		"free trial",
		"percent off",
	}
	defaultRecallIntervals = []int{1, 3, 7, 14, 30, 60, 120, 240}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:           defaultDataDir,
			SubscriptionsFile: defaultSubscriptionsFile,
		},
		Timeouts: Timeouts{
			Feed:             30,
			Download:         600,
			Detect:           300,
			Cut:              900,
			Transcribe:       7200,
			DiscoveryRequest: 15,
			WriteBack:        30,
		},
		Download: Download{
			MaxRetries:       3,
			RetryBaseDelayMS: 1000,
			UserAgent:        defaultUserAgent,
		},
		AdDetection: AdDetection{
			Signals:           []string{SignalChapter, SignalText},
			ChapterConfidence: 0.99,
			TextConfidence:    0.70,
			MaxGapMerge:       5.0,
			MinSegmentLength:  10.0,
			MinConfidence:     0.5,
			PaddingSeconds:    1.0,
			ChapterMarkers:    append([]string(nil), defaultChapterMarkers...),
			AdPhrases:         append([]string(nil), defaultAdPhrases...),
		},
		Transcription: Transcription{
			Model:     defaultWhisperXModel,
			VADMethod: defaultVADMethod,
			Language:  "en",
			BeamSize:  5,
		},
		Discovery: Discovery{
			Enabled:             true,
			Methods:             []string{MethodServiceA, MethodServiceB, MethodPublisher, MethodSearch},
			MinConfidenceScore:  0.5,
			MinTranscriptLength: defaultMinTranscriptLength,
			RequestDelayMS:      defaultDiscoveryDelayMS,
			ServiceAURL:         defaultServiceAURL,
			ServiceBURL:         defaultServiceBURL,
			SearchURL:           defaultSearchURL,
		},
		Recall: Recall{
			BaseIntervals: append([]int(nil), defaultRecallIntervals...),
			EMAAlpha:      0.3,
		},
		Cache: Cache{
			MetadataTTLSeconds: defaultMetadataCacheTTLSecond,
			MetadataMaxEntries: defaultMetadataCacheEntries,
			SurfacerTTLSeconds: 300,
			PatternsTTLSeconds: 600,
		},
		Jobs: Jobs{
			FailureThreshold: defaultJobFailureThreshold,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
