package config

import (
	"fmt"
	"os"

	"github.com/go-ini/ini"
	"github.com/mattn/go-isatty"

	"git.sr.ht/~tbpro/tbmail/lib/log"
	"git.sr.ht/~tbpro/tbmail/lib/xdg"
)

type GeneralConfig struct {
	UnsafeAccountsConf bool         `ini:"unsafe-accounts-conf"`
	LogFile            string       `ini:"log-file"`
	TraceFile          string       `ini:"trace-file"`
	LogLevel           log.LogLevel `ini:"-"`
}

func defaultGeneralConfig() GeneralConfig {
	return GeneralConfig{
		UnsafeAccountsConf: false,
		LogLevel:           log.INFO,
	}
}

func (config *TbmailConfig) parseGeneral(file *ini.File) error {
	gen, err := file.GetSection("general")
	if err != nil {
		return nil
	}
	if err := gen.MapTo(&config.General); err != nil {
		return err
	}
	if level, err := gen.GetKey("log-level"); err == nil {
		l, err := log.ParseLevel(level.String())
		if err != nil {
			return err
		}
		config.General.LogLevel = l
	}
	return nil
}

// InitLogging sends the logs to stdout at DEBUG level when stdout is not a
// terminal, otherwise to log-file if any.
func (gen *GeneralConfig) InitLogging() error {
	var logFile *os.File
	useStdout := false

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		logFile = os.Stdout
		useStdout = true
		// redirected to file, force DEBUG level
		gen.LogLevel = log.DEBUG
	} else if gen.LogFile != "" {
		var err error
		logFile, err = os.OpenFile(xdg.ExpandHome(gen.LogFile),
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("log-file: %w", err)
		}
	}
	return log.Init(logFile, useStdout, gen.LogLevel)
}
