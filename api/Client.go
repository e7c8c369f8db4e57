package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

type ApiClient struct {
	Name    string
	BaseUrl string
	apiKey  string
	Client  *http.Client
	Verbose bool
	Debug   bool
}

// NewClient talks to the admin API at baseurl, e.g. http://127.0.0.1:8053/api/v1.
func NewClient(name, baseurl, apikey string, verbose, debug bool) *ApiClient {
	return &ApiClient{
		Name:    name,
		BaseUrl: baseurl,
		apiKey:  apikey,
		Client:  &http.Client{Timeout: 10 * time.Second},
		Verbose: verbose,
		Debug:   debug,
	}
}

func (api *ApiClient) Post(endpoint string, data []byte) (int, []byte, error) {
	if api == nil {
		return 501, nil, fmt.Errorf("api client is nil")
	}

	if api.Debug {
		var prettyJSON bytes.Buffer
		if err := json.Indent(&prettyJSON, data, "", "  "); err != nil {
			log.Println("JSON parse error: ", err)
		}
		fmt.Printf("api.Post: posting to URL '%s' %d bytes of data:\n%s\n",
			api.BaseUrl+endpoint, len(data), prettyJSON.String())
	}

	req, err := http.NewRequest(http.MethodPost, api.BaseUrl+endpoint, bytes.NewBuffer(data))
	if err != nil {
		return 501, nil, fmt.Errorf("api.Post: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("X-API-Key", api.apiKey)

	resp, err := api.Client.Do(req)
	if err != nil {
		return 501, nil, err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if api.Debug {
		fmt.Printf("api.Post: received %d bytes of response data (status %d)\n", len(buf), resp.StatusCode)
	}
	return resp.StatusCode, buf, err
}

// RequestNG posts data as JSON and decodes the reply into response.
func (api *ApiClient) RequestNG(endpoint string, data, response interface{}) error {
	bytebuf := new(bytes.Buffer)
	if err := json.NewEncoder(bytebuf).Encode(data); err != nil {
		return fmt.Errorf("api.RequestNG: %w", err)
	}
	status, buf, err := api.Post(endpoint, bytebuf.Bytes())
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("api.RequestNG: %s%s returned status %d", api.BaseUrl, endpoint, status)
	}
	if err := json.Unmarshal(buf, response); err != nil {
		return fmt.Errorf("api.RequestNG: error decoding response: %w", err)
	}
	return nil
}

func (api *ApiClient) SendPing(pingcount int) (PingResponse, error) {
	var pr PingResponse
	err := api.RequestNG("/ping", PingPost{Pings: pingcount}, &pr)
	return pr, err
}

func (api *ApiClient) Stats() (StatsResponse, error) {
	var sr StatsResponse
	err := api.RequestNG("/stats", struct{}{}, &sr)
	return sr, err
}

func (api *ApiClient) Cache(post CachePost) (CacheResponse, error) {
	var cr CacheResponse
	if err := api.RequestNG("/cache", post, &cr); err != nil {
		return cr, err
	}
	if cr.Error {
		return cr, fmt.Errorf("%s", cr.ErrorMsg)
	}
	return cr, nil
}
