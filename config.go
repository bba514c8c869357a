package gotranscript

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/brunobiangulo/gotranscript/extract"
)

// EnvPrefix is the prefix of every environment variable read by LoadConfig.
const EnvPrefix = "GOTRANSCRIPT"

// Config holds all configuration for the gotranscript engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.gotranscript/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name" validate:"omitempty,excludesall=/\\"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set: "home" (default) uses ~/.gotranscript/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir" validate:"omitempty,oneof=home local cwd"`

	// Extract holds the label table and numeric precision of the template.
	Extract extract.Config `json:"extract" yaml:"extract"`

	// TrajectoryDim is the length of the GPA trajectory vector indexed for
	// similarity search. Transcripts with more terms are truncated.
	TrajectoryDim int `json:"trajectory_dim" yaml:"trajectory_dim" validate:"min=1,max=64"`

	// Pdftotext, when set, is the pdftotext binary used instead of the
	// native PDF reader.
	Pdftotext string `json:"pdftotext,omitempty" yaml:"pdftotext,omitempty"`

	// AllowEmpty stores records that carry no semesters and no transfer
	// courses instead of rejecting them with ErrNotATranscript.
	AllowEmpty bool `json:"allow_empty" yaml:"allow_empty"`

	// MaxUploadBytes bounds request bodies accepted by the HTTP server.
	MaxUploadBytes int64 `json:"max_upload_bytes" yaml:"max_upload_bytes" validate:"min=0"`
}

// DefaultConfig returns a Config for the supported transcript template.
// Database is stored in ~/.gotranscript/gotranscript.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:         "gotranscript",
		StorageDir:     "home",
		Extract:        extract.DefaultConfig(),
		TrajectoryDim:  8,
		MaxUploadBytes: 32 << 20,
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "gotranscript"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		return filepath.Join(home, ".gotranscript", name+".db")
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
	translator   ut.Translator
)

func configValidator() (*validator.Validate, ut.Translator) {
	validateOnce.Do(func() {
		english := en.New()
		uni := ut.New(english, english)
		translator, _ = uni.GetTranslator("en")

		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = en_translations.RegisterDefaultTranslations(validate, translator)
	})
	return validate, translator
}

// Validate checks the configuration. Failures wrap ErrInvalidConfig and
// list every offending field by its JSON name.
func (c Config) Validate() error {
	v, trans := configValidator()
	err := v.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		msgs = append(msgs, ns+": "+fe.Translate(trans))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// LoadConfig builds a Config from defaults, an optional config file
// (JSON, YAML or TOML, by extension) and GOTRANSCRIPT_* environment
// variables, in increasing order of precedence. A .env file in the working
// directory is loaded into the environment first when present. Nested keys
// map to environment names with "_" for ".", e.g.
// GOTRANSCRIPT_EXTRACT_LABELS_PROGRAM. List values from the environment
// are space-separated.
func LoadConfig(path string) (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return Config{}, fmt.Errorf("loading .env: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	setString(v, "db_path", &cfg.DBPath)
	setString(v, "db_name", &cfg.DBName)
	setString(v, "storage_dir", &cfg.StorageDir)
	setString(v, "pdftotext", &cfg.Pdftotext)
	if v.IsSet("trajectory_dim") {
		cfg.TrajectoryDim = v.GetInt("trajectory_dim")
	}
	if v.IsSet("allow_empty") {
		cfg.AllowEmpty = v.GetBool("allow_empty")
	}
	if v.IsSet("max_upload_bytes") {
		cfg.MaxUploadBytes = v.GetInt64("max_upload_bytes")
	}
	if v.IsSet("extract.decimals") {
		cfg.Extract.Decimals = v.GetInt("extract.decimals")
	}

	l := &cfg.Extract.Labels
	setString(v, "extract.labels.program", &l.Program)
	setString(v, "extract.labels.program_suffix", &l.ProgramSuffix)
	setString(v, "extract.labels.term_gpa", &l.TermGPA)
	setString(v, "extract.labels.cumulative_gpa", &l.CumulativeGPA)
	setString(v, "extract.labels.transfer_start", &l.TransferStart)
	setString(v, "extract.labels.transfer_end", &l.TransferEnd)
	setString(v, "extract.labels.end_of_transcript", &l.EndOfTranscript)
	setString(v, "extract.labels.transfer_grade", &l.TransferGrade)
	if v.IsSet("extract.labels.seasons") {
		l.Seasons = v.GetStringSlice("extract.labels.seasons")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}
