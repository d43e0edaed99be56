package main

import (
	"database/sql"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"github.com/hb9tf/scanner/config"
	"github.com/hb9tf/scanner/export"
	"github.com/hb9tf/scanner/extraction"
	"github.com/hb9tf/scanner/filter"
	"github.com/hb9tf/scanner/inference"
	"github.com/hb9tf/scanner/pipeline"
)

const mqttDisconnectMillis = 250

// buildSinks creates one sink per enabled branch, and one per transport
// output. The returned func releases databases and broker connections.
func buildSinks(c *config.Config, topo *pipeline.Topology, source string) ([]export.Sink, func(), error) {
	var sinks []export.Sink
	var dbs []*sql.DB
	var client mqtt.Client
	cleanup := func() {
		for _, db := range dbs {
			db.Close()
		}
		if client != nil {
			client.Disconnect(mqttDisconnectMillis)
		}
	}
	fail := func(err error) ([]export.Sink, func(), error) {
		cleanup()
		return nil, nil, err
	}

	var publishers []inference.Publisher
	if c.MQTTServer != "" {
		var err error
		if client, err = export.ConnectMQTT(c.MQTTServer, "scanner-"+c.Identifier); err != nil {
			return fail(err)
		}
	}
	newMQTT := func() *export.MQTT {
		return &export.MQTT{Client: client, Topic: c.MQTTTopic, Identifier: c.Identifier}
	}
	if client != nil {
		publishers = append(publishers, newMQTT())
	}
	publishers = append(publishers, inference.LogPublisher{})

	rows := export.Rows{Identifier: c.Identifier, Source: source, BinSize: c.BinSize}
	for _, branch := range topo.Branches() {
		switch branch {
		case pipeline.BranchRecording:
			sinks = append(sinks, export.Sink{
				Name: branch,
				Exporter: &export.Recorder{
					Dir:        c.SampleDir,
					RotateSecs: c.RotateSecs,
					SigMF:      c.SigMF,
					Gain:       c.Gain,
					Source:     source,
					Identifier: c.Identifier,
				},
			})

		case pipeline.BranchImageInference:
			inf := c.Inference
			e := &inference.ImageExporter{
				Engine:        inference.NewHTTPEngine(inf.ModelServer),
				Model:         inf.ModelName,
				OutputDir:     inf.OutputDir,
				NImage:        inf.NImage,
				NInference:    inf.NInference,
				MinConfidence: inf.MinConfidence,
				MinDB:         inf.MinDB,
				Publishers:    publishers,
			}
			if inf.TextColor != "" {
				col, err := extraction.ParseColor(inf.TextColor)
				if err != nil {
					return fail(fmt.Errorf("inference_text_color: %w", err))
				}
				e.TextColor = col
			}
			sinks = append(sinks, export.Sink{Name: branch, Exporter: e})

		case pipeline.BranchIQInference:
			inf := c.IQInference
			sinks = append(sinks, export.Sink{
				Name: branch,
				Exporter: &inference.IQExporter{
					Engine:        inference.NewHTTPEngine(inf.ModelServer),
					Model:         inf.ModelName,
					NInference:    inf.NInference,
					MinConfidence: inf.MinConfidence,
					MinDB:         inf.MinDB,
					Publishers:    publishers,
				},
			})

		case pipeline.BranchTransport:
			filters := []filter.Filterer{&filter.FilterPower{MinDB: c.TransportMinDB}}
			if c.TransportFreqLow > 0 || c.TransportFreqHigh > 0 {
				filters = append(filters, &filter.FilterFreq{FreqLow: c.TransportFreqLow, FreqHigh: c.TransportFreqHigh})
			}
			for _, output := range c.OutputList() {
				var exporter export.Exporter
				switch output {
				case config.OutputCSV:
					exporter = &export.CSV{Rows: rows}
				case config.OutputSQLite:
					db, err := export.OpenSQLite(c.SQLiteFile)
					if err != nil {
						return fail(fmt.Errorf("unable to open sqlite DB %q: %w", c.SQLiteFile, err))
					}
					dbs = append(dbs, db)
					exporter = &export.SQL{Rows: rows, DB: db}
				case config.OutputMySQL:
					db, err := export.OpenMySQL(c.MySQL.Server, c.MySQL.User, c.MySQL.PasswordFile, c.MySQL.DBName)
					if err != nil {
						return fail(fmt.Errorf("unable to open MySQL DB %q: %w", c.MySQL.Server, err))
					}
					dbs = append(dbs, db)
					exporter = &export.MySQL{Rows: rows, DB: db}
				case config.OutputSpectre:
					exporter = &export.SpectreServer{
						Rows:              rows,
						Server:            c.SpectreServer,
						SendSamplesAmount: c.SpectreServerSamples,
					}
				case config.OutputMQTT:
					exporter = newMQTT()
				default:
					return fail(fmt.Errorf("%q is not a supported output", output))
				}
				sinks = append(sinks, export.Sink{
					Name:     branch + "/" + output,
					Exporter: exporter,
					Filters:  filters,
				})
			}
		}
	}

	for _, s := range sinks {
		glog.Infof("sink %s enabled", s.Name)
	}
	return sinks, cleanup, nil
}
