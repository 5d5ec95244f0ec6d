package main

import (
	"strings"
	"sync"

	"studyreel/internal/config"
	"studyreel/internal/daemonctl"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) withControl(fn func(*daemonctl.Control) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	ctl, err := daemonctl.Open(cfg)
	if err != nil {
		return err
	}
	defer ctl.Close()
	return fn(ctl)
}
