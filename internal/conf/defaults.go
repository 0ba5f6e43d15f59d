// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "AutoCount")
	viper.SetDefault("main.loglevel", "info")
	viper.SetDefault("main.logpath", "logs/")

	viper.SetDefault("http.host", "0.0.0.0")
	viper.SetDefault("http.port", 8080)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "autocount.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "autocount")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.database", "autocount")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", 3306)

	viper.SetDefault("pages.dir", "pages/")
	viper.SetDefault("pages.cachettl", 10*time.Minute)

	viper.SetDefault("vision.enabled", true)
	viper.SetDefault("vision.endpoint", "https://api.openai.com/v1/chat/completions")
	viper.SetDefault("vision.apikey", "")
	viper.SetDefault("vision.model", "gpt-4o")
	viper.SetDefault("vision.timeout", 60*time.Second)

	viper.SetDefault("takeoff.endpoint", "")
	viper.SetDefault("takeoff.apikey", "")
	viper.SetDefault("takeoff.timeout", 30*time.Second)
	viper.SetDefault("takeoff.path", "measurements.jsonl")

	viper.SetDefault("detection.threshold", 0.7)
	viper.SetDefault("detection.scaletolerance", 0.2)
	viper.SetDefault("detection.rotationtolerance", 15.0)
	viper.SetDefault("detection.scalesteps", 5)
	viper.SetDefault("detection.rotationsteps", 7)
	viper.SetDefault("detection.maxcandidates", 5000)
	viper.SetDefault("detection.suppressioniou", 0.3)
	viper.SetDefault("detection.templatepadding", 0.1)
	viper.SetDefault("detection.runtimeout", 5*time.Minute)
}
