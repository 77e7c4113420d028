// Package client calls a running translation server.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Params mirrors the translate form fields. Empty fields use server defaults.
type Params struct {
	LangIn   string
	LangOut  string
	Service  string
	Thread   int
	Model    string
	Callback string
}

// Result holds both decoded artifacts and their server-chosen names.
type Result struct {
	MonoName string
	DualName string
	Mono     []byte
	Dual     []byte
}

type combinedResponse struct {
	MonoFilename  string `json:"mono_filename"`
	DualFilename  string `json:"dual_filename"`
	MonoSizeBytes int    `json:"mono_size_bytes"`
	DualSizeBytes int    `json:"dual_size_bytes"`
	MonoBase64    string `json:"mono_base64"`
	DualBase64    string `json:"dual_base64"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

type Client struct {
	baseURL string
	http    *resty.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    resty.New().SetTimeout(timeout),
	}
}

// Translate uploads data to POST /translate and decodes both artifacts.
func (c *Client) Translate(ctx context.Context, fileName string, data []byte, p Params) (*Result, error) {
	form := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			form[k] = v
		}
	}
	set("lang_in", p.LangIn)
	set("lang_out", p.LangOut)
	set("service", p.Service)
	set("model", p.Model)
	set("callback", p.Callback)
	if p.Thread > 0 {
		form["thread"] = strconv.Itoa(p.Thread)
	}

	var resp combinedResponse
	var apiErr errorResponse
	rr, err := c.http.R().SetContext(ctx).
		SetFileReader("file", fileName, bytes.NewReader(data)).
		SetFormData(form).
		SetResult(&resp).
		SetError(&apiErr).
		Post(c.baseURL + "/translate")
	if err != nil {
		return nil, err
	}
	if rr.IsError() {
		if apiErr.Error != "" {
			return nil, fmt.Errorf("server returned %s: %s", rr.Status(), apiErr.Error)
		}
		return nil, fmt.Errorf("server returned %s; body: %s", rr.Status(), rr.String())
	}

	mono, err := decodeArtifact("mono", resp.MonoBase64, resp.MonoSizeBytes)
	if err != nil {
		return nil, err
	}
	dual, err := decodeArtifact("dual", resp.DualBase64, resp.DualSizeBytes)
	if err != nil {
		return nil, err
	}
	return &Result{MonoName: resp.MonoFilename, DualName: resp.DualFilename, Mono: mono, Dual: dual}, nil
}

func decodeArtifact(kind, encoded string, size int) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode %s artifact: %w", kind, err)
	}
	if len(data) != size || size == 0 {
		return nil, fmt.Errorf("%s artifact is %d bytes, server reported %d", kind, len(data), size)
	}
	return data, nil
}
