package user_agent

import (
	_ "embed"
	"log/slog"
	"strings"
	"sync"

	ua "github.com/mileusna/useragent"
	"github.com/samber/lo"
	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// Device types recorded on a scan.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// Classification is the outcome of parsing a raw user-agent string.
type Classification struct {
	DeviceType string
	Browser    *string
	OS         *string
}

//go:embed database/bots.yml
var botsDatabase []byte

// Bot entry structure
type BotEntry struct {
	Regex    string `yaml:"regex"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	URL      string `yaml:"url"`
	Producer struct {
		Name string `yaml:"name"`
		URL  string `yaml:"url"`
	} `yaml:"producer"`
}

// Bot patterns only match after a token boundary so that device names
// ending in "bot" are not mistaken for crawlers.
const botPatternPrefix = `(?i)(?:^|[^a-z0-9\-_]|[^a-z0-9\-]_|sprd-|mz-)(?:`

// Compiled regex cache
type RegexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *RegexCache {
	return &RegexCache{
		compiled: make(map[string]*pcre.Regexp),
	}
}

func (rc *RegexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	// Double-check pattern
	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile(botPatternPrefix + pattern + ")")
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

type botDetector struct {
	bots       []BotEntry
	regexCache *RegexCache
}

var (
	detector *botDetector
	once     sync.Once
)

func getBotDetector() *botDetector {
	once.Do(func() {
		detector = &botDetector{regexCache: newRegexCache()}
		if err := yaml.Unmarshal(botsDatabase, &detector.bots); err != nil {
			slog.Error("Failed to parse bots database", slog.Any("error", err))
		}
	})
	return detector
}

func (d *botDetector) match(userAgent string) *BotEntry {
	for i := range d.bots {
		regex, err := d.regexCache.get(d.bots[i].Regex)
		if err != nil {
			slog.Warn("Skipping invalid bot pattern",
				slog.String("name", d.bots[i].Name),
				slog.Any("error", err))
			continue
		}
		if regex.MatchString(userAgent) {
			return &d.bots[i]
		}
	}
	return nil
}

// MatchBot returns the crawler entry matching userAgent, or nil.
func MatchBot(userAgent string) *BotEntry {
	if userAgent == "" {
		return nil
	}
	return getBotDetector().match(userAgent)
}

// Classify derives the device type, browser and OS of a raw user agent.
// Crawlers are always DeviceBot. An empty user agent, or one whose form
// factor cannot be detected, is DeviceDesktop.
func Classify(raw string) Classification {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Classification{DeviceType: DeviceDesktop}
	}

	parsed := ua.Parse(raw)
	result := Classification{
		DeviceType: formFactor(parsed, raw),
		Browser:    lo.EmptyableToPtr(parsed.Name),
		OS:         lo.EmptyableToPtr(parsed.OS),
	}

	if bot := MatchBot(raw); bot != nil {
		result.DeviceType = DeviceBot
		if bot.Name != "" && bot.Name != "Generic Bot" {
			result.Browser = lo.ToPtr(bot.Name)
		}
	} else if parsed.Bot {
		result.DeviceType = DeviceBot
	}

	return result
}

func formFactor(parsed ua.UserAgent, raw string) string {
	switch {
	case parsed.Tablet:
		return DeviceTablet
	case parsed.Mobile:
		return DeviceMobile
	case parsed.Desktop:
		return DeviceDesktop
	}

	// Fallback based on user agent substrings
	lower := strings.ToLower(raw)

	// Tablets often also contain "mobile"
	if strings.Contains(lower, "tablet") || strings.Contains(lower, "ipad") {
		return DeviceTablet
	}

	if strings.Contains(lower, "mobile") || strings.Contains(lower, "android") ||
		strings.Contains(lower, "iphone") || strings.Contains(lower, "ipod") ||
		strings.Contains(lower, "blackberry") || strings.Contains(lower, "windows phone") {
		return DeviceMobile
	}

	return DeviceDesktop
}
