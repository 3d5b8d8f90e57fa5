// Copyright 2026 The Logfan Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"os"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"logfan.dev/logfan"
	"logfan.dev/logfan/diag"
	"logfan.dev/logfan/plugin"
	"logfan.dev/logfan/record"
	"logfan.dev/logfan/service/analysis"
	"logfan.dev/logfan/service/archive"
	"logfan.dev/logfan/transport/console"
	"logfan.dev/logfan/transport/dashboard"
	"logfan.dev/logfan/transport/email"
	"logfan.dev/logfan/transport/file"
	"logfan.dev/logfan/transport/kafka"
)

// Build constructs a fully wired engine from a parsed config. Unknown
// transport or service names, and any plugin that fails to construct or
// initialize, abort the build.
func Build(f *File) (*logfan.Logger, error) {
	opts, err := engineOptions(f)
	if err != nil {
		return nil, err
	}

	var plugins []plugin.Plugin
	for _, spec := range f.Transports {
		p, err := buildTransport(spec)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	for _, spec := range f.Services {
		p, err := buildService(spec)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	opts = append(opts, logfan.WithPlugins(plugins...))

	return logfan.New(opts...)
}

// LoadAndBuild is the one-call path from a config file to a running engine.
func LoadAndBuild(path string) (*logfan.Logger, error) {
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Build(f)
}

func engineOptions(f *File) ([]logfan.Option, error) {
	var opts []logfan.Option

	if f.Level != "" {
		level, err := record.ParseLevel(f.Level)
		if err != nil {
			return nil, NewFieldError("engine", "level", "build", err)
		}
		opts = append(opts, logfan.WithLevel(level))
	}
	if f.InterceptConsole {
		opts = append(opts, logfan.WithConsoleInterception())
	}
	if f.Diagnostics != "" {
		ch, err := diagChannel(f.Diagnostics)
		if err != nil {
			return nil, NewFieldError("engine", "diagnostics", "build", err)
		}
		opts = append(opts, logfan.WithDiagChannel(ch))
	}
	if len(f.Sanitization.RedactKeys) > 0 {
		opts = append(opts, logfan.WithRedactKeys(f.Sanitization.RedactKeys...))
	}
	if len(f.Sanitization.RedactPatterns) > 0 {
		opts = append(opts, logfan.WithRedactPatterns(f.Sanitization.RedactPatterns...))
	}
	if f.Sanitization.MaskCharacter != "" {
		opts = append(opts, logfan.WithMaskRune([]rune(f.Sanitization.MaskCharacter)[0]))
	}
	return opts, nil
}

func diagChannel(target string) (*diag.Channel, error) {
	if target == "stderr" {
		return diag.NewWriter(os.Stderr), nil
	}
	fh, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return diag.NewWriter(fh), nil
}

func buildTransport(spec PluginSpec) (plugin.Plugin, error) {
	switch spec.Name {
	case "console":
		return buildConsole(spec)
	case "file":
		return buildFile(spec)
	case "email":
		return buildEmail(spec)
	case "kafka":
		return buildKafka(spec)
	case "dashboard":
		return buildDashboard(spec)
	}
	return nil, NewFieldError("transports", spec.Name, "build",
		errors.New("unknown transport"))
}

func buildService(spec PluginSpec) (plugin.Plugin, error) {
	switch spec.Name {
	case "analysis":
		return buildAnalysis(spec)
	case "archive":
		return buildArchive(spec)
	}
	return nil, NewFieldError("services", spec.Name, "build",
		errors.New("unknown service"))
}

// decodeSpec binds a plugin's raw option map to its typed settings.
func decodeSpec(spec PluginSpec, dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "config",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           dst,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return NewFieldError("plugins", spec.Name, "bind", err)
	}
	if err := dec.Decode(spec.Options); err != nil {
		return NewFieldError("plugins", spec.Name, "bind", err)
	}
	return nil
}

func buildConsole(spec PluginSpec) (plugin.Plugin, error) {
	var cfg struct {
		JSON  bool  `config:"json"`
		Color *bool `config:"color"`
	}
	if err := decodeSpec(spec, &cfg); err != nil {
		return nil, err
	}
	var opts []console.Option
	if cfg.JSON {
		opts = append(opts, console.WithJSON())
	}
	if cfg.Color != nil {
		opts = append(opts, console.WithColor(*cfg.Color))
	}
	return console.New(opts...), nil
}

func buildFile(spec PluginSpec) (plugin.Plugin, error) {
	var cfg struct {
		Path          string `config:"path"`
		MaxSize       int64  `config:"max_size"`
		MaxBackups    int    `config:"max_backups"`
		Compression   string `config:"compression"`
		QueueCapacity int    `config:"queue_capacity"`
	}
	if err := decodeSpec(spec, &cfg); err != nil {
		return nil, err
	}
	var opts []file.Option
	if cfg.MaxSize > 0 {
		opts = append(opts, file.WithMaxSize(cfg.MaxSize))
	}
	if cfg.MaxBackups > 0 {
		opts = append(opts, file.WithMaxBackups(cfg.MaxBackups))
	}
	if cfg.Compression != "" {
		opts = append(opts, file.WithCompression(file.Compression(cfg.Compression)))
	}
	if cfg.QueueCapacity > 0 {
		opts = append(opts, file.WithQueueCapacity(cfg.QueueCapacity))
	}
	t, err := file.New(cfg.Path, opts...)
	if err != nil {
		return nil, NewFieldError("transports", spec.Name, "build", err)
	}
	return t, nil
}

func buildEmail(spec PluginSpec) (plugin.Plugin, error) {
	var cfg struct {
		SMTPAddr      string        `config:"smtp_addr"`
		From          string        `config:"from"`
		To            []string      `config:"to"`
		Username      string        `config:"username"`
		Password      string        `config:"password"`
		BatchSize     int           `config:"batch_size"`
		FlushInterval time.Duration `config:"flush_interval"`
		MinLevel      string        `config:"min_level"`
		SendsPerHour  int           `config:"sends_per_hour"`
		SubjectPrefix string        `config:"subject_prefix"`
	}
	if err := decodeSpec(spec, &cfg); err != nil {
		return nil, err
	}
	sender, err := email.NewSMTPSender(cfg.SMTPAddr, cfg.From, cfg.To...)
	if err != nil {
		return nil, NewFieldError("transports", spec.Name, "build", err)
	}
	sender.Username = cfg.Username
	sender.Password = cfg.Password

	var opts []email.Option
	if cfg.BatchSize > 0 {
		opts = append(opts, email.WithBatchSize(cfg.BatchSize))
	}
	if cfg.FlushInterval > 0 {
		opts = append(opts, email.WithFlushInterval(cfg.FlushInterval))
	}
	if cfg.MinLevel != "" {
		level, perr := record.ParseLevel(cfg.MinLevel)
		if perr != nil {
			return nil, NewFieldError("transports", spec.Name, "build", perr)
		}
		opts = append(opts, email.WithMinLevel(level))
	}
	if cfg.SendsPerHour > 0 {
		opts = append(opts, email.WithSendsPerHour(cfg.SendsPerHour))
	}
	if cfg.SubjectPrefix != "" {
		opts = append(opts, email.WithSubjectPrefix(cfg.SubjectPrefix))
	}
	t, err := email.New(sender, opts...)
	if err != nil {
		return nil, NewFieldError("transports", spec.Name, "build", err)
	}
	return t, nil
}

func buildKafka(spec PluginSpec) (plugin.Plugin, error) {
	var cfg struct {
		Brokers       []string      `config:"brokers"`
		Topic         string        `config:"topic"`
		BatchMax      int           `config:"batch_max"`
		Linger        time.Duration `config:"linger"`
		QueueCapacity int           `config:"queue_capacity"`
	}
	if err := decodeSpec(spec, &cfg); err != nil {
		return nil, err
	}
	var opts []kafka.Option
	if cfg.BatchMax > 0 {
		opts = append(opts, kafka.WithBatchMax(cfg.BatchMax))
	}
	if cfg.Linger > 0 {
		opts = append(opts, kafka.WithLinger(cfg.Linger))
	}
	if cfg.QueueCapacity > 0 {
		opts = append(opts, kafka.WithQueueCapacity(cfg.QueueCapacity))
	}
	t, err := kafka.New(cfg.Brokers, cfg.Topic, opts...)
	if err != nil {
		return nil, NewFieldError("transports", spec.Name, "build", err)
	}
	return t, nil
}

func buildDashboard(spec PluginSpec) (plugin.Plugin, error) {
	var cfg struct {
		Addr       string        `config:"addr"`
		Username   string        `config:"username"`
		Password   string        `config:"password"`
		RingSize   int           `config:"ring_size"`
		SessionTTL time.Duration `config:"session_ttl"`
	}
	if err := decodeSpec(spec, &cfg); err != nil {
		return nil, err
	}
	var opts []dashboard.Option
	if cfg.RingSize > 0 {
		opts = append(opts, dashboard.WithRingSize(cfg.RingSize))
	}
	if cfg.SessionTTL > 0 {
		opts = append(opts, dashboard.WithSessionTTL(cfg.SessionTTL))
	}
	t, err := dashboard.New(cfg.Addr, cfg.Username, cfg.Password, opts...)
	if err != nil {
		return nil, NewFieldError("transports", spec.Name, "build", err)
	}
	return t, nil
}

func buildAnalysis(spec PluginSpec) (plugin.Plugin, error) {
	var cfg struct {
		Endpoint  string        `config:"endpoint"`
		APIKey    string        `config:"api_key"`
		MinLevel  string        `config:"min_level"`
		CacheSize int           `config:"cache_size"`
		Timeout   time.Duration `config:"timeout"`
	}
	if err := decodeSpec(spec, &cfg); err != nil {
		return nil, err
	}
	analyzer, err := analysis.NewHTTPAnalyzer(cfg.Endpoint, cfg.APIKey)
	if err != nil {
		return nil, NewFieldError("services", spec.Name, "build", err)
	}

	var opts []analysis.Option
	if cfg.MinLevel != "" {
		level, perr := record.ParseLevel(cfg.MinLevel)
		if perr != nil {
			return nil, NewFieldError("services", spec.Name, "build", perr)
		}
		opts = append(opts, analysis.WithMinLevel(level))
	}
	if cfg.CacheSize > 0 {
		opts = append(opts, analysis.WithCacheSize(cfg.CacheSize))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, analysis.WithTimeout(cfg.Timeout))
	}
	s, err := analysis.New(analyzer, opts...)
	if err != nil {
		return nil, NewFieldError("services", spec.Name, "build", err)
	}
	return s, nil
}

func buildArchive(spec PluginSpec) (plugin.Plugin, error) {
	var cfg struct {
		Dir         string        `config:"dir"`
		Interval    time.Duration `config:"interval"`
		Codec       string        `config:"codec"`
		Compression string        `config:"compression"`
		WindowSize  int           `config:"window_size"`
	}
	if err := decodeSpec(spec, &cfg); err != nil {
		return nil, err
	}
	provider, err := archive.NewDirProvider(cfg.Dir)
	if err != nil {
		return nil, NewFieldError("services", spec.Name, "build", err)
	}

	var opts []archive.Option
	if cfg.Interval > 0 {
		opts = append(opts, archive.WithInterval(cfg.Interval))
	}
	if cfg.Codec != "" {
		opts = append(opts, archive.WithCodec(archive.Codec(cfg.Codec)))
	}
	if cfg.Compression != "" {
		opts = append(opts, archive.WithCompression(archive.Compression(cfg.Compression)))
	}
	if cfg.WindowSize > 0 {
		opts = append(opts, archive.WithWindowSize(cfg.WindowSize))
	}
	s, err := archive.New(provider, opts...)
	if err != nil {
		return nil, NewFieldError("services", spec.Name, "build", err)
	}
	return s, nil
}
