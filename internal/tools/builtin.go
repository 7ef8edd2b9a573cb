package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Built-in tool names.
const (
	DateTimeName = "getCurrentDateTime"
	WeatherName  = "getWeatherInfo"
)

// DefaultWeatherLocation is used when getWeatherInfo is called without a
// location.
const DefaultWeatherLocation = "東京"

var weekdays = [...]string{"日曜日", "月曜日", "火曜日", "水曜日", "木曜日", "金曜日", "土曜日"}

// weatherTable is searched in order; the first entry whose name contains the
// requested location, or is contained by it, wins.
var weatherTable = []struct{ location, report string }{
	{"東京", "晴れ、気温25℃、湿度60%"},
	{"大阪", "曇り、気温23℃、湿度65%"},
	{"名古屋", "雨、気温20℃、湿度80%"},
	{"福岡", "晴れ、気温28℃、湿度55%"},
}

type dateTimeArgs struct{}

type weatherArgs struct {
	Location string `json:"location,omitempty" jsonschema_description:"天気情報を取得したい場所の名前（例：東京、大阪、名古屋）"`
}

// Builtins returns the in-process tools in declaration order. now supplies
// the clock for getCurrentDateTime; nil means time.Now.
func Builtins(now func() time.Time) []Tool {
	return []Tool{DateTime(now), Weather()}
}

// DateTime returns the getCurrentDateTime tool.
func DateTime(now func() time.Time) Tool {
	if now == nil {
		now = time.Now
	}
	return Tool{
		Declaration: Declare[dateTimeArgs](DateTimeName,
			"現在の日時を正確に取得する関数です。年月日、時分秒、曜日を日本語で返します。時刻や日付に関する質問があった場合に使用してください。"),
		Handler: Typed(func(context.Context, dateTimeArgs) (string, error) {
			return FormatDateTime(now()), nil
		}),
	}
}

// FormatDateTime renders t as "2006年01月02日 15時04分05秒 (曜日)".
func FormatDateTime(t time.Time) string {
	return fmt.Sprintf("%s (%s)", t.Format("2006年01月02日 15時04分05秒"), weekdays[t.Weekday()])
}

// Weather returns the getWeatherInfo tool backed by a fixed table.
func Weather() Tool {
	return Tool{
		Declaration: Declare[weatherArgs](WeatherName,
			"指定された場所の天気情報を取得する関数です。場所が指定されない場合は東京の天気を返します。"),
		Handler: Typed(func(_ context.Context, args weatherArgs) (string, error) {
			return WeatherReport(args.Location), nil
		}),
	}
}

// WeatherReport looks up location in the weather table.
func WeatherReport(location string) string {
	if location == "" {
		location = DefaultWeatherLocation
	}
	for _, w := range weatherTable {
		if strings.Contains(w.location, location) || strings.Contains(location, w.location) {
			return w.location + "の天気: " + w.report
		}
	}
	return location + "の天気情報は利用できませんが、一般的に今日は穏やかな天気です。"
}
