package main

import (
	"log"

	"github.com/m3rciful/nalunchbot/bot"
	"github.com/m3rciful/nalunchbot/core/bootstrap"
	corecmd "github.com/m3rciful/nalunchbot/core/cmd"
	coreconfig "github.com/m3rciful/nalunchbot/core/config"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			cfg, err := coreconfig.Load(path)
			if err != nil {
				return nil, err
			}
			return configCarrier{cfg: cfg}, nil
		},
		Bootstrap: func(carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
			cfg := carrier.CoreConfig()
			result, err := bootstrap.Run(bootstrap.Options{Config: cfg})
			if err != nil {
				return nil, err
			}
			return bot.Build(cfg, result.DB)
		},
	})
	if err != nil {
		log.Fatalf("nalunchbot: %v", err)
	}
}

type configCarrier struct {
	cfg *coreconfig.Config
}

func (c configCarrier) CoreConfig() *coreconfig.Config { return c.cfg }
