package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/imroc/req/v3"

	"github.com/BradenHooton/facegate/internal/models"
)

const (
	pathDetect      = "/rest/2.0/face/v3/detect"
	pathMatch       = "/rest/2.0/face/v3/match"
	pathSearch      = "/rest/2.0/face/v3/search"
	pathUserAdd     = "/rest/2.0/face/v3/faceset/user/add"
	pathUserUpdate  = "/rest/2.0/face/v3/faceset/user/update"
	pathFaceDelete  = "/rest/2.0/face/v3/faceset/face/delete"
	pathFaceList    = "/rest/2.0/face/v3/faceset/face/getlist"
	pathGroupList   = "/rest/2.0/face/v3/faceset/group/getlist"
	pathGroupUsers  = "/rest/2.0/face/v3/faceset/group/getusers"
	defaultTokenURL = "/oauth/2.0/token"
)

// HTTPConfig configures the HTTP adapter
type HTTPConfig struct {
	BaseURL             string
	TokenURL            string
	APIKey              string
	SecretKey           string
	RequestTimeout      time.Duration
	Retry               RetryPolicy
	TokenExpirySkew     time.Duration
	TokenRefreshTimeout time.Duration
}

// HTTPClient talks to the provider's JSON-over-HTTP API
type HTTPClient struct {
	cfg    HTTPConfig
	http   *req.Client
	tokens *TokenManager
	logger *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds the adapter. store may be nil, in which case tokens are only cached in-process.
func NewHTTPClient(cfg HTTPConfig, store TokenStore, logger *slog.Logger) *HTTPClient {
	if cfg.TokenURL == "" && cfg.BaseURL != "" {
		cfg.TokenURL = strings.TrimRight(cfg.BaseURL, "/") + defaultTokenURL
	}

	c := &HTTPClient{
		cfg: cfg,
		http: req.C().
			SetJsonMarshal(json.Marshal).
			SetJsonUnmarshal(json.Unmarshal).
			SetUserAgent("facegate").
			SetTimeout(cfg.RequestTimeout),
		logger: logger,
	}
	c.tokens = NewTokenManager(c.fetchToken, store, TokenManagerConfig{
		ExpirySkew:     cfg.TokenExpirySkew,
		RefreshTimeout: cfg.TokenRefreshTimeout,
	}, logger)

	return c
}

// IsConfigValid checks locally that credentials are present and the URLs are usable
func (c *HTTPClient) IsConfigValid() bool {
	if strings.TrimSpace(c.cfg.APIKey) == "" || strings.TrimSpace(c.cfg.SecretKey) == "" {
		return false
	}
	for _, raw := range []string{c.cfg.BaseURL, c.cfg.TokenURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
			return false
		}
	}
	return true
}

// GetAccessToken returns the cached token or performs the single in-flight refresh
func (c *HTTPClient) GetAccessToken(ctx context.Context) (string, error) {
	if !c.IsConfigValid() {
		return "", models.ErrProviderUnconfigured
	}
	var token string
	err := c.cfg.Retry.run(ctx, "token", func(ctx context.Context) error {
		var err error
		token, err = c.tokens.Get(ctx)
		return err
	})
	return token, err
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *HTTPClient) fetchToken(ctx context.Context) (Token, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     c.cfg.APIKey,
			"client_secret": c.cfg.SecretKey,
		}).
		Post(c.cfg.TokenURL)
	if err != nil {
		return Token{}, transportError(ctx, "token", err)
	}

	body, err := resp.ToBytes()
	if err != nil {
		return Token{}, &models.ProviderTransientError{Operation: "token", Err: err}
	}
	if status := resp.GetStatusCode(); status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return Token{}, &models.ProviderTransientError{Operation: "token", Err: fmt.Errorf("status %d", status)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, &models.ProviderError{Operation: "token", Message: "malformed token response", Err: err}
	}
	if tr.Error != "" || tr.AccessToken == "" {
		return Token{}, &models.ProviderError{Operation: "token", Message: strings.TrimSpace(tr.Error + " " + tr.ErrorDescription)}
	}

	return Token{Value: tr.AccessToken, ExpiresAt: tokenExpiry(tr, time.Now())}, nil
}

// tokenExpiry prefers expires_in; JWT-shaped tokens without it fall back to their exp claim
func tokenExpiry(tr tokenResponse, now time.Time) time.Time {
	if tr.ExpiresIn > 0 {
		return now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tr.AccessToken, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return now.Add(time.Hour)
}

// envelope is the provider's common response wrapper
type envelope struct {
	ErrorCode int             `json:"error_code"`
	ErrorMsg  string          `json:"error_msg"`
	LogID     any             `json:"log_id"`
	Result    json.RawMessage `json:"result"`
}

// call runs one provider operation with retries. out may be nil.
func (c *HTTPClient) call(ctx context.Context, operation, path string, body, out any) error {
	if !c.IsConfigValid() {
		return models.ErrProviderUnconfigured
	}

	started := time.Now()
	err := c.cfg.Retry.run(ctx, operation, func(ctx context.Context) error {
		return c.attempt(ctx, operation, path, body, out)
	})
	observe(operation, started, err)

	if err != nil {
		c.logger.WarnContext(ctx, "face provider call failed",
			slog.String("operation", operation),
			slog.Duration("elapsed", time.Since(started)),
			slog.Any("error", err),
		)
	}
	return err
}

func (c *HTTPClient) attempt(ctx context.Context, operation, path string, body, out any) error {
	token, err := c.tokens.Get(ctx)
	if err != nil {
		return err
	}

	actx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(actx).
		SetQueryParam("access_token", token).
		SetBodyJsonMarshal(body).
		Post(strings.TrimRight(c.cfg.BaseURL, "/") + path)
	if err != nil {
		return transportError(actx, operation, err)
	}

	raw, err := resp.ToBytes()
	if err != nil {
		return &models.ProviderTransientError{Operation: operation, Err: err}
	}
	if status := resp.GetStatusCode(); status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return &models.ProviderTransientError{Operation: operation, Err: fmt.Errorf("status %d", status)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &models.ProviderError{Operation: operation, Message: "malformed response", Err: err}
	}

	switch {
	case env.ErrorCode == 0:
	case isTokenCode(env.ErrorCode):
		c.tokens.Invalidate(ctx, token)
		return &models.ProviderTransientError{Operation: operation, Code: env.ErrorCode, Err: errors.New(env.ErrorMsg)}
	case isTransientCode(env.ErrorCode):
		return &models.ProviderTransientError{Operation: operation, Code: env.ErrorCode, Err: errors.New(env.ErrorMsg)}
	default:
		return &models.ProviderError{Operation: operation, Code: env.ErrorCode, Message: env.ErrorMsg}
	}

	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &models.ProviderError{Operation: operation, Message: "malformed result", Err: err}
	}
	return nil
}

// transportError classifies a failed round trip; every transport failure is transient
func transportError(ctx context.Context, operation string, err error) error {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded ||
		(errors.As(err, &netErr) && netErr.Timeout())
	return &models.ProviderTransientError{Operation: operation, Timeout: timeout, Err: err}
}

type imagePayload struct {
	Image     string `json:"image"`
	ImageType string `json:"image_type"`
}

func payloadOf(img Image) imagePayload {
	return imagePayload{Image: img.Data, ImageType: string(img.Type)}
}

type detectRequest struct {
	imagePayload
	FaceField       string `json:"face_field"`
	MaxFaceNum      int    `json:"max_face_num"`
	LivenessControl string `json:"liveness_control,omitempty"`
}

type detectResult struct {
	FaceNum  int `json:"face_num"`
	FaceList []struct {
		FaceToken       string  `json:"face_token"`
		FaceProbability float64 `json:"face_probability"`
		Location        struct {
			Width  float64 `json:"width"`
			Height float64 `json:"height"`
		} `json:"location"`
		Quality struct {
			Occlusion    map[string]float64 `json:"occlusion"`
			Blur         float64            `json:"blur"`
			Illumination float64            `json:"illumination"`
			Completeness float64            `json:"completeness"`
		} `json:"quality"`
		Liveness *struct {
			Livemapscore float64 `json:"livemapscore"`
		} `json:"liveness"`
	} `json:"face_list"`
}

func (c *HTTPClient) DetectFace(ctx context.Context, img Image, opts DetectOptions) (*DetectResult, error) {
	fields := "quality"
	if opts.WithLiveness {
		fields += ",liveness"
	}
	maxFaces := opts.MaxFaces
	if maxFaces <= 0 {
		maxFaces = 10
	}

	var res detectResult
	err := c.call(ctx, "detect", pathDetect, detectRequest{
		imagePayload:    payloadOf(img),
		FaceField:       fields,
		MaxFaceNum:      maxFaces,
		LivenessControl: string(opts.LivenessControl),
	}, &res)
	if err != nil {
		return nil, err
	}

	out := &DetectResult{FaceNum: res.FaceNum, Faces: make([]DetectedFace, 0, len(res.FaceList))}
	for _, f := range res.FaceList {
		face := DetectedFace{
			FaceToken:   f.FaceToken,
			Probability: f.FaceProbability,
			Width:       int(f.Location.Width),
			Height:      int(f.Location.Height),
			Quality: FaceQuality{
				Blur:         f.Quality.Blur,
				Illumination: f.Quality.Illumination,
				Completeness: f.Quality.Completeness,
			},
		}
		for _, v := range f.Quality.Occlusion {
			face.Quality.Occlusion = max(face.Quality.Occlusion, v)
		}
		if f.Liveness != nil {
			score := f.Liveness.Livemapscore
			face.Liveness = &score
		}
		out.Faces = append(out.Faces, face)
	}
	return out, nil
}

func (c *HTTPClient) CompareFaces(ctx context.Context, a, b Image) (*CompareResult, error) {
	var res struct {
		Score    float64 `json:"score"`
		FaceList []struct {
			FaceToken string `json:"face_token"`
		} `json:"face_list"`
	}
	if err := c.call(ctx, "compare", pathMatch, []imagePayload{payloadOf(a), payloadOf(b)}, &res); err != nil {
		return nil, err
	}

	out := &CompareResult{Score: res.Score}
	for _, f := range res.FaceList {
		out.FaceTokens = append(out.FaceTokens, f.FaceToken)
	}
	return out, nil
}

func (c *HTTPClient) SearchFace(ctx context.Context, img Image, groupIDs []string, maxUsers int) (*SearchResult, error) {
	var res struct {
		FaceToken string `json:"face_token"`
		UserList  []struct {
			GroupID string  `json:"group_id"`
			UserID  string  `json:"user_id"`
			Score   float64 `json:"score"`
		} `json:"user_list"`
	}
	body := struct {
		imagePayload
		GroupIDList string `json:"group_id_list"`
		MaxUserNum  int    `json:"max_user_num"`
	}{payloadOf(img), strings.Join(groupIDs, ","), maxUsers}

	if err := c.call(ctx, "search", pathSearch, body, &res); err != nil {
		return nil, err
	}

	out := &SearchResult{FaceToken: res.FaceToken}
	for _, u := range res.UserList {
		out.Candidates = append(out.Candidates, SearchCandidate{GroupID: u.GroupID, UserID: u.UserID, Score: u.Score})
	}
	return out, nil
}

type enrollRequest struct {
	imagePayload
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
}

func (c *HTTPClient) AddFace(ctx context.Context, img Image, groupID, userID string) (*EnrollResult, error) {
	var res struct {
		FaceToken string `json:"face_token"`
	}
	if err := c.call(ctx, "add", pathUserAdd, enrollRequest{payloadOf(img), groupID, userID}, &res); err != nil {
		return nil, err
	}
	return &EnrollResult{FaceToken: res.FaceToken}, nil
}

func (c *HTTPClient) UpdateFace(ctx context.Context, img Image, groupID, userID string) (*EnrollResult, error) {
	var res struct {
		FaceToken string `json:"face_token"`
	}
	if err := c.call(ctx, "update", pathUserUpdate, enrollRequest{payloadOf(img), groupID, userID}, &res); err != nil {
		return nil, err
	}
	return &EnrollResult{FaceToken: res.FaceToken}, nil
}

func (c *HTTPClient) DeleteFace(ctx context.Context, groupID, userID, faceToken string) error {
	body := map[string]string{"group_id": groupID, "user_id": userID, "face_token": faceToken}
	return c.call(ctx, "delete", pathFaceDelete, body, nil)
}

func (c *HTTPClient) GetFaceList(ctx context.Context, groupID, userID string) ([]FaceEntry, error) {
	var res struct {
		FaceList []struct {
			FaceToken string `json:"face_token"`
			CTime     string `json:"ctime"`
		} `json:"face_list"`
	}
	body := map[string]string{"group_id": groupID, "user_id": userID}
	if err := c.call(ctx, "face_list", pathFaceList, body, &res); err != nil {
		return nil, err
	}

	out := make([]FaceEntry, 0, len(res.FaceList))
	for _, f := range res.FaceList {
		entry := FaceEntry{FaceToken: f.FaceToken}
		if t, err := time.Parse(time.DateTime, f.CTime); err == nil {
			entry.CreatedAt = t
		}
		out = append(out, entry)
	}
	return out, nil
}

func (c *HTTPClient) GetGroupList(ctx context.Context, start, length int) ([]string, error) {
	var res struct {
		GroupIDList []string `json:"group_id_list"`
	}
	body := map[string]int{"start": start, "length": length}
	if err := c.call(ctx, "group_list", pathGroupList, body, &res); err != nil {
		return nil, err
	}
	return res.GroupIDList, nil
}

func (c *HTTPClient) GetUserList(ctx context.Context, groupID string, start, length int) ([]string, error) {
	var res struct {
		UserIDList []string `json:"user_id_list"`
	}
	body := map[string]any{"group_id": groupID, "start": start, "length": length}
	if err := c.call(ctx, "user_list", pathGroupUsers, body, &res); err != nil {
		return nil, err
	}
	return res.UserIDList, nil
}
