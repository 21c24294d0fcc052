// Package meet talks to the external date-ranking vote service.
//
// The service owns vote/participant CRUD and the ranking computation; this
// package only consumes its REST API. All methods are safe for concurrent
// use.
package meet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wendybot/pkg/logx"
)

const dateLayout = "2006-01-02"

// Gateway is the vote-service surface the bot consumes.
type Gateway interface {
	CreateVote(ctx context.Context, req CreateVoteRequest) (VoteSummary, error)
	RankedResult(ctx context.Context, voteID int64) ([]Ranking, error)
	ParticipantStatuses(ctx context.Context, voteID int64) ([]ParticipantStatus, error)
	AddParticipant(ctx context.Context, voteID int64, displayName string) (int64, error)
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	base string
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg Config, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("meet: base_url is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}, nil
}

type createVoteReq struct {
	Name         string   `json:"name"`
	StartDate    string   `json:"startDate"`
	EndDate      string   `json:"endDate"`
	Participants []string `json:"participantNames,omitempty"`
}

type voteSummaryRes struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Code     string `json:"code"`
	AdminURL string `json:"adminUrl"`
	ShareURL string `json:"shareUrl"`
}

func (c *Client) CreateVote(ctx context.Context, req CreateVoteRequest) (VoteSummary, error) {
	body := createVoteReq{
		Name:         req.Name,
		StartDate:    req.StartDate.Format(dateLayout),
		EndDate:      req.EndDate.Format(dateLayout),
		Participants: req.Participants,
	}
	var res voteSummaryRes
	if err := c.do(ctx, http.MethodPost, "/votes", body, &res); err != nil {
		return VoteSummary{}, err
	}
	c.log.Debug("vote created",
		logx.Int64("vote_id", res.ID), logx.String("code", res.Code))
	return VoteSummary{
		ID:       res.ID,
		Name:     res.Name,
		Code:     res.Code,
		AdminURL: res.AdminURL,
		ShareURL: res.ShareURL,
	}, nil
}

type rankingRes struct {
	Rank       int    `json:"rank"`
	Date       string `json:"date"`
	Period     string `json:"period"`
	VoterCount int    `json:"voterCount"`
	Voters     []struct {
		Name     string `json:"name"`
		Priority *int   `json:"priority"`
	} `json:"voters"`
}

func (c *Client) RankedResult(ctx context.Context, voteID int64) ([]Ranking, error) {
	var res struct {
		Rankings []rankingRes `json:"rankings"`
	}
	path := fmt.Sprintf("/votes/%d/result", voteID)
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}

	out := make([]Ranking, 0, len(res.Rankings))
	for _, r := range res.Rankings {
		date, err := time.Parse(dateLayout, r.Date)
		if err != nil {
			return nil, fmt.Errorf("meet: bad date %q in ranking: %w", r.Date, err)
		}
		rk := Ranking{
			Rank:       r.Rank,
			Date:       date,
			Period:     Period(r.Period),
			VoterCount: r.VoterCount,
		}
		for _, v := range r.Voters {
			p := 0
			if v.Priority != nil {
				p = *v.Priority
			}
			rk.Voters = append(rk.Voters, Voter{Name: v.Name, Priority: p})
		}
		out = append(out, rk)
	}
	return out, nil
}

func (c *Client) ParticipantStatuses(ctx context.Context, voteID int64) ([]ParticipantStatus, error) {
	var res []struct {
		DisplayName string `json:"displayName"`
		Submitted   bool   `json:"submitted"`
	}
	path := fmt.Sprintf("/votes/%d/participants/status", voteID)
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	out := make([]ParticipantStatus, 0, len(res))
	for _, s := range res {
		out = append(out, ParticipantStatus{DisplayName: s.DisplayName, Submitted: s.Submitted})
	}
	return out, nil
}

func (c *Client) AddParticipant(ctx context.Context, voteID int64, displayName string) (int64, error) {
	body := struct {
		DisplayName string `json:"displayName"`
	}{DisplayName: displayName}
	var res struct {
		ID int64 `json:"id"`
	}
	path := fmt.Sprintf("/votes/%d/participants", voteID)
	if err := c.do(ctx, http.MethodPost, path, body, &res); err != nil {
		return 0, err
	}
	return res.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("meet: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		// Read a short error body for the logs; the caller only needs the code.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn("gateway call failed",
			logx.String("method", method), logx.String("path", path),
			logx.Int("status", resp.StatusCode), logx.String("body", strings.TrimSpace(string(msg))))
		return fmt.Errorf("meet: %s %s: http %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("meet: decode %s %s: %w", method, path, err)
	}
	return nil
}
