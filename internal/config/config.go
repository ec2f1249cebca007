// internal/config/config.go
package config

import (
	"log"
	"os"
	"sync"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		DataPort int `mapstructure:"data_port"`
		APIPort  int `mapstructure:"api_port"`
	} `mapstructure:"server"`
	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`
	Redis struct {
		Enabled bool   `mapstructure:"enabled"`
		Addr    string `mapstructure:"addr"`
	} `mapstructure:"redis"`
	MQTT struct {
		Enabled   bool   `mapstructure:"enabled"`
		BrokerURL string `mapstructure:"broker_url"`
		ClientID  string `mapstructure:"client_id"`
		Topic     string `mapstructure:"topic"`
		QoS       int    `mapstructure:"qos"`
		Username  string `mapstructure:"username"`
		Password  string `mapstructure:"password"`
	} `mapstructure:"mqtt"`
	Kafka struct {
		Enabled       bool     `mapstructure:"enabled"`
		Brokers       []string `mapstructure:"brokers"`
		ReadingsTopic string   `mapstructure:"readings_topic"`
		AlertsTopic   string   `mapstructure:"alerts_topic"`
		DLQTopic      string   `mapstructure:"dlq_topic"`
	} `mapstructure:"kafka"`
	SMTP struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		From     string `mapstructure:"from"`
	} `mapstructure:"smtp"`
	FCM struct {
		CredentialsFile string `mapstructure:"credentials_file"`
	} `mapstructure:"fcm"`
	AI struct {
		BaseURL        string `mapstructure:"base_url"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	} `mapstructure:"ai"`
	Chatbot struct {
		APIKey  string `mapstructure:"api_key"`
		Model   string `mapstructure:"model"`
		BaseURL string `mapstructure:"base_url"`
	} `mapstructure:"chatbot"`
	Auth struct {
		JWTSecret string   `mapstructure:"jwt_secret"`
		APIKeys   []string `mapstructure:"api_keys"`
	} `mapstructure:"auth"`
	Spike struct {
		Window     int     `mapstructure:"window"`
		MinHistory int     `mapstructure:"min_history"`
		Multiplier float64 `mapstructure:"multiplier"`
	} `mapstructure:"spike"`
	Ingest struct {
		DefaultUserID      string  `mapstructure:"default_user_id"`
		DefaultPowerRating float64 `mapstructure:"default_power_rating"`
	} `mapstructure:"ingest"`
}

var AppConfig Config

func LoadConfig(path string) error {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(path)
	viper.AutomaticEnv() // read in environment variables that match

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Error reading config file: %s\n", err)
		// Defaults above keep the gateway usable without a config file.
	}

	err := viper.Unmarshal(&AppConfig)
	if err != nil {
		log.Printf("Unable to decode config into struct: %v", err)
		return err
	}

	log.Printf("Configuration loaded: data_port=%d api_port=%d mqtt=%v kafka=%v",
		AppConfig.Server.DataPort, AppConfig.Server.APIPort, AppConfig.MQTT.Enabled, AppConfig.Kafka.Enabled)
	return nil
}

func setDefaults() {
	viper.SetDefault("server.data_port", 8080)
	viper.SetDefault("server.api_port", 8081)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("mqtt.client_id", "meter-gateway")
	viper.SetDefault("mqtt.topic", "meters/+/readings")
	viper.SetDefault("mqtt.qos", 1)
	viper.SetDefault("kafka.readings_topic", "meter.readings")
	viper.SetDefault("kafka.alerts_topic", "meter.alerts")
	viper.SetDefault("kafka.dlq_topic", "meter.readings.dlq")
	viper.SetDefault("smtp.port", 587)
	viper.SetDefault("ai.base_url", "http://localhost:5001")
	viper.SetDefault("ai.timeout_seconds", 60)
	viper.SetDefault("chatbot.model", "gemini-1.5-flash")
	viper.SetDefault("chatbot.base_url", "https://generativelanguage.googleapis.com/v1beta")
	viper.SetDefault("spike.window", 10)
	viper.SetDefault("spike.min_history", 5)
	viper.SetDefault("spike.multiplier", 1.5)
	viper.SetDefault("ingest.default_user_id", "system")
	viper.SetDefault("ingest.default_power_rating", 1000)
}

var (
	logger     *log.Logger
	initLogger sync.Once
)

// GetLogger returns the shared process logger.
func GetLogger() *log.Logger {
	initLogger.Do(func() {
		logger = log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)
	})
	return logger
}
