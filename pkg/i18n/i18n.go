package i18n

import (
	"reflect"
	"strings"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds the operator-facing process messages
type Messages struct {
	// System
	Starting         string
	ConfigLoaded     string
	UsingDBPath      string
	ServerListening  string
	ShuttingDown     string
	ShutdownComplete string
	ConfigLoadFailed string
	DBInitFailed     string
	APIServerError   string

	// Seed and storage
	SeedLoaded        string
	SeedFailed        string
	CheckpointsOpened string
	CheckpointsFailed string

	// Broker and prices
	BrokerSelected      string
	UnknownBroker       string
	RedisPriceSource    string
	RedisUnreachable    string
	MarketSessionFailed string

	// Engine
	EngineServiceInit string
	BotsLoaded        string
	BotsLoadFailed    string
	StatusSyncStarted string
	MonitorStarted    string
	SupervisorStarted string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:         "Starting trendline engine...",
	ConfigLoaded:     "Config loaded, API port %s",
	UsingDBPath:      "Using database %s",
	ServerListening:  "API server listening on %s",
	ShuttingDown:     "Shutting down...",
	ShutdownComplete: "Shutdown complete",
	ConfigLoadFailed: "Failed to load config: %v",
	DBInitFailed:     "Failed to open database: %v",
	APIServerError:   "API server error: %v",

	// Seed and storage
	SeedLoaded:        "Seeded %d charts and %d risk buckets from %s",
	SeedFailed:        "Failed to load chart seed %s: %v",
	CheckpointsOpened: "Checkpoint store at %s",
	CheckpointsFailed: "Failed to open checkpoint store: %v",

	// Broker and prices
	BrokerSelected:      "Broker: %s (rate %.1f/s, timeout %s)",
	UnknownBroker:       "Unknown broker %q",
	RedisPriceSource:    "Prices from redis %s (prefix %s)",
	RedisUnreachable:    "Redis %s unreachable, prices fall back to the broker: %v",
	MarketSessionFailed: "Invalid market timezone: %v",

	// Engine
	EngineServiceInit: "Engine initialized (%d bots in parallel, tick %s)",
	BotsLoaded:        "Recovered bots: %d resumed, %d orphaned, %d failed, %d deferred",
	BotsLoadFailed:    "Failed to load active bots: %v",
	StatusSyncStarted: "Status sync every %s",
	MonitorStarted:    "Alert monitor started",
	SupervisorStarted: "Broker supervisor started",
}

// Chinese messages
var messagesZH = Messages{
	// System
	Starting:         "啟動趨勢線交易引擎...",
	ConfigLoaded:     "設定已載入，API 連接埠 %s",
	UsingDBPath:      "使用資料庫 %s",
	ServerListening:  "API 伺服器監聽於 %s",
	ShuttingDown:     "正在關閉...",
	ShutdownComplete: "關閉完成",
	ConfigLoadFailed: "讀取設定失敗：%v",
	DBInitFailed:     "開啟資料庫失敗：%v",
	APIServerError:   "API 伺服器錯誤：%v",

	// Seed and storage
	SeedLoaded:        "已從 %[3]s 匯入 %[1]d 張圖表與 %[2]d 組風控設定",
	SeedFailed:        "讀取圖表種子檔 %s 失敗：%v",
	CheckpointsOpened: "檢查點儲存於 %s",
	CheckpointsFailed: "開啟檢查點儲存失敗：%v",

	// Broker and prices
	BrokerSelected:      "券商：%s（速率 %.1f/秒，逾時 %s）",
	UnknownBroker:       "未知的券商 %q",
	RedisPriceSource:    "價格來源 redis %s（前綴 %s）",
	RedisUnreachable:    "無法連線 redis %s，改用券商報價：%v",
	MarketSessionFailed: "市場時區無效：%v",

	// Engine
	EngineServiceInit: "引擎已初始化（並行 %d 個機器人，週期 %s）",
	BotsLoaded:        "恢復機器人：續跑 %d、孤兒 %d、失敗 %d、延後 %d",
	BotsLoadFailed:    "載入啟用中的機器人失敗：%v",
	StatusSyncStarted: "狀態同步週期 %s",
	MonitorStarted:    "警示監控已啟動",
	SupervisorStarted: "券商連線監督已啟動",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = Language(strings.ToLower(string(lang)))
	switch currentLang {
	case LangZH:
		messages = &messagesZH
	default:
		currentLang = LangEN
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
