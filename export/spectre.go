package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/golang/glog"

	"github.com/hb9tf/scanner/sdr"
)

const (
	contentType             = "application/json"
	spectreEndpoint         = "spectre/v1/collect"
	defaultSendSampleAmount = 100
)

// CollectResponse is returned by the collection server.
type CollectResponse struct {
	Status      string `json:"status"`
	SampleCount int    `json:"sampleCount"`
}

// SpectreServer posts samples in batches to a spectre collection server.
type SpectreServer struct {
	Rows
	Server            string
	SendSamplesAmount int
	Client            *http.Client
}

func (s *SpectreServer) Write(ctx context.Context, results <-chan sdr.Result) error {
	sendSamplesAmount := defaultSendSampleAmount
	if s.SendSamplesAmount > 0 {
		sendSamplesAmount = s.SendSamplesAmount
	}

	var samplesToSend []sdr.Sample
	for res := range results {
		samplesToSend = append(samplesToSend, s.Samples(&res)...)
		if len(samplesToSend) < sendSamplesAmount {
			continue // we haven't collected enough samples to send yet
		}
		if err := s.send(ctx, samplesToSend); err != nil {
			glog.Warningf("error POSTing samples: %s", err)
		}
		samplesToSend = nil
	}
	if len(samplesToSend) > 0 {
		if err := s.send(ctx, samplesToSend); err != nil {
			glog.Warningf("error POSTing remaining samples: %s", err)
		}
	}
	return nil
}

func (s *SpectreServer) send(ctx context.Context, samples []sdr.Sample) error {
	body, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("error marshalling samples to JSON: %w", err)
	}
	url := fmt.Sprintf("%s/%s", strings.TrimRight(s.Server, "/"), spectreEndpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading POST body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	collectResponseBody := CollectResponse{}
	if err := json.Unmarshal(respBody, &collectResponseBody); err != nil {
		return fmt.Errorf("unable to parse server response: %w", err)
	}
	glog.V(1).Infof("submitted %d samples to server %s", collectResponseBody.SampleCount, s.Server)
	return nil
}
