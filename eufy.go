package sitekeeper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// EufyClient talks to the Eufy Life private API: it logs in with an email
// and password, lists the account's devices, and pulls measurement data for
// the body scale among them.
type EufyClient struct {
	Email        string
	Password     string
	ClientID     string
	ClientSecret string

	// DeviceID pins device selection to a specific device. When empty the
	// client picks the device that looks most like a body scale.
	DeviceID string

	apiBaseURL string
	category   string
	client     *http.Client
	token      string
	log        *zap.SugaredLogger
}

// Measurement is one weight reading, normalized to kilograms. MeasuredAt is
// the zero time when the API did not report a usable timestamp.
type Measurement struct {
	WeightKg   float64
	MeasuredAt time.Time
}

const (
	eufyAPIBaseURL = "https://home-api.eufylife.com/v1"
	eufyCategory   = "Health"
	eufyLoginPath  = "/user/v2/email/login"
)

// NewEufyClient returns a client for the Eufy Life API. All four credential
// arguments are required.
func NewEufyClient(
	email, password, clientID, clientSecret string,
	options ...func(*EufyClient)) (*EufyClient, error) {

	if email == "" || password == "" {
		return nil, errors.New("Eufy account email and password must be specified")
	}
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("Eufy API client id and client secret must be specified")
	}
	c := &EufyClient{
		Email:        email,
		Password:     password,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		apiBaseURL:   eufyAPIBaseURL,
		category:     eufyCategory,
		client:       initHTTPClient(20 * time.Second),
		log:          zap.NewNop().Sugar(),
	}
	for _, o := range options {
		o(c)
	}
	return c, nil
}

// WithEufyLogger is an option that can be passed to NewEufyClient to set the
// *zap.SugaredLogger the client will use internally. If this option is not
// passed, a no-op log will be used.
func WithEufyLogger(logger *zap.SugaredLogger) func(*EufyClient) {
	return func(c *EufyClient) {
		c.log = logger
	}
}

// WithEufyBaseURL overrides the API base URL, mostly for tests.
func WithEufyBaseURL(baseURL string) func(*EufyClient) {
	return func(c *EufyClient) {
		c.apiBaseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithEufyDeviceID pins the client to a specific device id instead of
// guessing which device is the scale.
func WithEufyDeviceID(id string) func(*EufyClient) {
	return func(c *EufyClient) {
		c.DeviceID = id
	}
}

// WithEufyTimeout sets the HTTP client timeout for all API calls.
func WithEufyTimeout(timeout time.Duration) func(*EufyClient) {
	return func(c *EufyClient) {
		c.client = initHTTPClient(timeout)
	}
}

// Login authenticates against the Eufy API and stores the access token for
// subsequent calls. LatestMeasurement calls it automatically when no token
// is held yet.
func (c *EufyClient) Login() error {
	payload := map[string]string{
		"client_id":     c.ClientID,
		"client_secret": c.ClientSecret,
		"email":         c.Email,
		"password":      c.Password,
	}
	body, err := c.requestJSON("POST", eufyLoginPath, payload, false)
	if err != nil {
		return errors.Wrap(err, "login failed")
	}
	token, err := extractToken(body)
	if err != nil {
		return err
	}
	c.token = token
	c.log.Infow("logged in to Eufy API", "email", c.Email)
	return nil
}

// LatestMeasurement returns the newest weight reading for the account's
// scale device, in kilograms.
func (c *EufyClient) LatestMeasurement() (Measurement, error) {
	if c.token == "" {
		if err := c.Login(); err != nil {
			return Measurement{}, err
		}
	}
	devices, err := c.requestJSON("GET", "/device/", nil, true)
	if err != nil {
		return Measurement{}, errors.Wrap(err, "listing devices")
	}
	device, err := c.pickScaleDevice(devices)
	if err != nil {
		return Measurement{}, err
	}
	id := deviceID(device)
	if id == "" {
		return Measurement{}, errors.New("selected device does not include an id")
	}
	c.log.Infow("selected scale device", "device_id", id)

	dataPath := "/device/" + url.PathEscape(id) + "/data"
	data, err := c.requestJSON("GET", dataPath, nil, true)
	if err != nil {
		return Measurement{}, errors.Wrapf(err, "fetching data for device %s", id)
	}
	return extractLatestWeight(data)
}

// requestJSON performs one API call and decodes the response body into a
// generic JSON value. The Eufy API is loosely typed, so callers dig the
// fields they need out of the result.
func (c *EufyClient) requestJSON(method, path string, payload interface{}, authed bool) (interface{}, error) {
	endpoint := c.apiBaseURL + path
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "error encoding request body")
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Accept", "application/json")
	req.Header.Add("category", c.category)
	if payload != nil {
		req.Header.Add("Content-Type", "application/json")
	}
	if authed {
		req.Header.Add("token", c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "error reaching Eufy API: %s", endpoint)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 250))
		return nil, fmt.Errorf("error during Eufy API call: %v (url: %s): %s",
			resp.Status, endpoint, strings.TrimSpace(string(detail)))
	}
	var body interface{}
	if err := decodeResponse(resp.Body, &body); err != nil {
		return nil, errors.Wrapf(err, "Eufy response from %s", endpoint)
	}
	return body, nil
}

// extractToken digs the access token out of a login response. The API has
// shipped it under several names over time.
func extractToken(login interface{}) (string, error) {
	obj, ok := login.(map[string]interface{})
	if !ok {
		return "", errors.New("login response did not include an access token")
	}
	candidates := []interface{}{obj["access_token"], obj["token"]}
	if data, ok := obj["data"].(map[string]interface{}); ok {
		candidates = append(candidates,
			data["access_token"], data["token"], data["auth_token"])
	}
	for _, c := range candidates {
		if token, ok := c.(string); ok && token != "" {
			return token, nil
		}
	}
	return "", errors.New("login response did not include an access token")
}

// pickScaleDevice chooses the scale from a device listing. A forced
// DeviceID wins; otherwise devices are scored by how scale-like their
// string fields look and the best score is taken.
func (c *EufyClient) pickScaleDevice(listing interface{}) (map[string]interface{}, error) {
	var devices []map[string]interface{}
	switch node := listing.(type) {
	case []interface{}:
		devices = deviceObjects(node)
	case map[string]interface{}:
		for _, key := range []string{"data", "devices", "list", "items"} {
			if arr, ok := node[key].([]interface{}); ok {
				devices = deviceObjects(arr)
				break
			}
		}
	}
	if len(devices) == 0 {
		return nil, errors.New("no devices found in response")
	}

	if c.DeviceID != "" {
		for _, d := range devices {
			if deviceID(d) == c.DeviceID {
				return d, nil
			}
		}
		return nil, errors.Errorf("device id %s was not found", c.DeviceID)
	}

	best, bestScore := devices[0], -1
	for _, d := range devices {
		var texts []string
		for _, v := range d {
			if s, ok := v.(string); ok {
				texts = append(texts, strings.ToLower(s))
			}
		}
		joined := strings.Join(texts, " ")
		score := 0
		if strings.Contains(joined, "scale") {
			score += 4
		}
		if strings.Contains(joined, "health") {
			score += 2
		}
		if strings.Contains(joined, "body") {
			score++
		}
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best, nil
}

func deviceObjects(arr []interface{}) []map[string]interface{} {
	var devices []map[string]interface{}
	for _, item := range arr {
		if d, ok := item.(map[string]interface{}); ok {
			devices = append(devices, d)
		}
	}
	return devices
}

func deviceID(device map[string]interface{}) string {
	for _, key := range []string{"id", "device_id", "deviceId"} {
		switch v := device[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			// Numeric ids keep their exact string form.
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

var (
	weightKeys = []string{"weight", "weight_kg", "weightKg", "body_weight", "bodyWeight"}
	unitKeys   = []string{"unit", "weight_unit", "weightUnit"}
	timeKeys   = []string{"time", "timestamp", "measureTime", "measuredAt", "created_at", "createdAt", "date"}
)

// extractLatestWeight walks the whole device-data payload for objects that
// carry a weight field, and keeps the reading with the newest timestamp.
// The payload shape varies across firmware versions, hence the tree walk
// rather than a typed response.
func extractLatestWeight(data interface{}) (Measurement, error) {
	var (
		best  Measurement
		found bool
	)
	walkJSONObjects(data, func(node map[string]interface{}) {
		weight, ok := weightFrom(node)
		if !ok {
			return
		}
		kg := toKilograms(weight, unitFrom(node))
		at, hasTime := timeFrom(node)

		if !found {
			best = Measurement{WeightKg: kg, MeasuredAt: at}
			found = true
			return
		}
		if hasTime && (best.MeasuredAt.IsZero() || at.After(best.MeasuredAt)) {
			best = Measurement{WeightKg: kg, MeasuredAt: at}
		}
	})
	if !found {
		return Measurement{}, errors.New("could not find a weight value in device data")
	}
	return best, nil
}

// walkJSONObjects visits every object in the tree. Map children are walked
// in sorted key order so that ties between measurements without timestamps
// resolve the same way on every run.
func walkJSONObjects(v interface{}, visit func(map[string]interface{})) {
	switch node := v.(type) {
	case map[string]interface{}:
		visit(node)
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkJSONObjects(node[k], visit)
		}
	case []interface{}:
		for _, item := range node {
			walkJSONObjects(item, visit)
		}
	}
}

func weightFrom(node map[string]interface{}) (float64, bool) {
	for _, key := range weightKeys {
		switch v := node[key].(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func unitFrom(node map[string]interface{}) string {
	for _, key := range unitKeys {
		if s, ok := node[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func timeFrom(node map[string]interface{}) (time.Time, bool) {
	for _, key := range timeKeys {
		if at, ok := parseMeasureTime(node[key]); ok {
			return at, true
		}
	}
	return time.Time{}, false
}

// parseMeasureTime accepts the timestamp formats the API has been seen to
// emit: unix seconds, unix milliseconds, digit strings of either, and ISO
// 8601 with or without a zone. Everything is normalized to UTC.
func parseMeasureTime(v interface{}) (time.Time, bool) {
	switch ts := v.(type) {
	case float64:
		if ts > 10_000_000_000 {
			ts /= 1000
		}
		return time.Unix(int64(ts), 0).UTC(), true
	case string:
		s := strings.TrimSpace(ts)
		if s == "" {
			return time.Time{}, false
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return parseMeasureTime(float64(n))
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if at, err := time.Parse(layout, s); err == nil {
				return at.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// toKilograms converts a raw weight to kilograms based on the unit string
// reported alongside it. An unknown or missing unit is assumed to already
// be kilograms.
func toKilograms(weight float64, unit string) float64 {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "", "kg", "kgs", "kilogram", "kilograms":
		return weight
	case "lb", "lbs", "pound", "pounds":
		return weight * 0.45359237
	case "g", "gram", "grams":
		return weight / 1000
	case "jin":
		return weight * 0.5
	}
	return weight
}
