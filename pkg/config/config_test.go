package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func (s *ConfigTestSuite) TestDefaultIsValid() {
	s.Require().NoError(Verify(Default()))
}

func (s *ConfigTestSuite) TestVerifyConfig() {
	cfg := Default()
	cfg.Arena.Pages = 1
	s.Require().Error(Verify(cfg))
	cfg.Arena.Pages = defaultArenaPages

	cfg.Kernel.MaxProcs = 0
	s.Require().Error(Verify(cfg))
	cfg.Kernel.MaxProcs = defaultMaxProcs

	cfg.Kernel.MaxVA = PageSize + 1
	s.Require().Error(Verify(cfg))
	cfg.Kernel.MaxVA = defaultMaxVA

	cfg.Drain.MaxInterval = time.Microsecond
	s.Require().Error(Verify(cfg))
	cfg.Drain.MaxInterval = time.Second

	s.Require().NoError(Verify(cfg))
	s.Require().Error(Verify(nil))
}

func (s *ConfigTestSuite) TestLoadFromEnv() {
	s.T().Setenv("SHMLOG_ARENA_PAGES", "64")
	s.T().Setenv("SHMLOG_KERNEL_MAX_PROCS", "8")
	s.T().Setenv("SHMLOG_LOG_LEVEL", "debug")
	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(64, cfg.Arena.Pages)
	s.Equal(8, cfg.Kernel.MaxProcs)
	s.Equal(uint64(defaultMaxVA), cfg.Kernel.MaxVA)
	s.Equal("debug", cfg.Logging.Level)
	s.Equal(time.Millisecond, cfg.Drain.InitialInterval)
}

func (s *ConfigTestSuite) TestLoadOrDefaultFallsBack() {
	s.T().Setenv("SHMLOG_ARENA_PAGES", "2")
	cfg := LoadOrDefault()
	s.Equal(defaultArenaPages, cfg.Arena.Pages)
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}
