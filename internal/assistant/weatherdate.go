package assistant

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// weatherDateSpec is the result of deterministically parsing a relative or
// explicit date expression plus any location mentions out of a free-text
// query, ported from the original assistant's weather_query module (spec
// §4.K step 3 "deterministic parsing").
type weatherDateSpec struct {
	Locations  []string
	TargetDate *time.Time
	DayOffset  *int
	DayLabel   string
}

var explicitDateRe = regexp.MustCompile(`(20\d{2})[.\-/年](\d{1,2})[.\-/月](\d{1,2})日?`)

var relativeDayTokens = []struct {
	token  string
	offset int
	label  string
}{
	{"大后天", 3, "大后天"},
	{"后天", 2, "后天"},
	{"明天", 1, "明天"},
	{"明日", 1, "明天"},
	{"明早", 1, "明天"},
	{"明晚", 1, "明天"},
	{"tomorrow", 1, "明天"},
	{"today", 0, "今天"},
	{"今天", 0, "今天"},
	{"今日", 0, "今天"},
	{"现在", 0, "今天"},
	{"今晚", 0, "今天"},
	{"今夜", 0, "今天"},
}

// resolveWeatherDate finds a target date/offset relative to base in text,
// matching an explicit YYYY-MM-DD-ish pattern before the relative keyword
// table.
func resolveWeatherDate(text string, base time.Time) (target *time.Time, offset *int, label string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, ""
	}
	if m := explicitDateRe.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, base.Location())
		off := int(t.Sub(truncateDay(base)).Hours() / 24)
		lbl := ""
		switch off {
		case 0:
			lbl = "今天"
		case 1:
			lbl = "明天"
		case 2:
			lbl = "后天"
		case 3:
			lbl = "大后天"
		}
		return &t, &off, lbl
	}
	lowered := strings.ToLower(text)
	for _, tok := range relativeDayTokens {
		if strings.Contains(lowered, tok.token) {
			t := truncateDay(base).AddDate(0, 0, tok.offset)
			off := tok.offset
			return &t, &off, tok.label
		}
	}
	return nil, nil, ""
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

var weatherNoiseRe = []*regexp.Regexp{
	explicitDateRe,
	regexp.MustCompile(`今天|今日|现在|今晚|今夜|明天|明日|明早|明晚|后天|大后天|本周|这周|下周|周末|这个周末`),
	regexp.MustCompile(`天气预报|天气情况|天气|气温|温度|下雨|降雨|风力|风向|空气质量|冷不冷|热不热|怎么样|如何|咋样|呢|呀|吧`),
	regexp.MustCompile(`weather|forecast`),
}

var weatherPunctuationRe = regexp.MustCompile(`[\s，,。．.？！?!：:；;（）()【】\[\]""'<>《》、/\\-]+`)

// extractWeatherLocations applies a best-effort strip-the-noise pass to
// recover location mentions from a Chinese/English weather query.
func extractWeatherLocations(query string) []string {
	text := strings.TrimSpace(query)
	if text == "" {
		return nil
	}
	for _, re := range weatherNoiseRe {
		text = re.ReplaceAllString(text, "")
	}
	text = weatherPunctuationRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	parts := regexp.MustCompile(`\s+|和|与|及|、`).Split(text, -1)
	locations := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "的 ")
		if p != "" {
			locations = append(locations, p)
		}
	}
	return locations
}

func buildWeatherDateSpec(query string, base time.Time) weatherDateSpec {
	target, offset, label := resolveWeatherDate(query, base)
	return weatherDateSpec{
		Locations:  extractWeatherLocations(query),
		TargetDate: target,
		DayOffset:  offset,
		DayLabel:   label,
	}
}
