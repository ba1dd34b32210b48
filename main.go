package main

import (
	stdlog "log"

	log "github.com/sirupsen/logrus"

	"github.com/blockdaemon/programfilter/cmd"
	"github.com/blockdaemon/programfilter/pkg/programfilter"
)

func main() {
	conf, err := cmd.NewConfiguration(nil, nil)
	if err != nil {
		log.Fatalf("Could not create configuration: %v", err)
	} else if conf != nil {
		adapter := &programfilter.Log2LogrusWriter{
			Entry: conf.Log.WithField("stdlog", "1"),
		}
		// Route the standard library logger, used by net/http, through logrus.
		stdlog.SetFlags(0)
		stdlog.SetOutput(adapter)
		programfilter.StartWithConfig(conf, nil)
	} else {
		// --help or --version was passed and handled by NewConfiguration, so do nothing
	}
}
