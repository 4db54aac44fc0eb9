package parser

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"aero-doc-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTikaParserExtractsTextAndPages(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "%PDF-fake", string(body))
		paths = append(paths, r.URL.Path)

		switch r.URL.Path {
		case "/tika":
			assert.Equal(t, "text/plain", r.Header.Get("Accept"))
			_, _ = w.Write([]byte("Hydraulic pressure check."))
		case "/meta":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"Content-Type":"application/pdf","xmpTPg:NPages":"12"}`))
		}
	}))
	defer srv.Close()

	p := NewTikaParser(srv.URL+"/", []string{".PDF", ".docx"})
	text, units, err := p.Parse(context.Background(), strings.NewReader("%PDF-fake"), "manual.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Hydraulic pressure check.", text)
	assert.Equal(t, 12, units)
	assert.Equal(t, []string{"/tika", "/meta"}, paths)
}

func TestTikaParserMetaFailureDefaultsToOnePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/meta" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("text"))
	}))
	defer srv.Close()

	_, units, err := NewTikaParser(srv.URL, nil).Parse(context.Background(), strings.NewReader("x"), "a.docx")
	require.NoError(t, err)
	assert.Equal(t, 1, units)
}

func TestTikaParserErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.Header.Get("Content-Type"), "msword") {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("encrypted document"))
	}))
	defer srv.Close()
	p := NewTikaParser(srv.URL, []string{".pdf", ".doc"})

	_, _, err := p.Parse(context.Background(), strings.NewReader("x"), "image.png")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, _, err = p.Parse(context.Background(), strings.NewReader("x"), "locked.pdf")
	assert.ErrorIs(t, err, ErrParse)
	assert.Contains(t, err.Error(), "encrypted document")
}

func TestPageCount(t *testing.T) {
	assert.Equal(t, 3, pageCount(`{"xmpTPg:NPages":"3"}`))
	assert.Equal(t, 7, pageCount(`{"meta:page-count":["7"]}`))
	assert.Equal(t, 2, pageCount(`{"Page-Count":2}`))
	assert.Equal(t, 0, pageCount(`{"title":"x"}`))
	assert.Equal(t, 0, pageCount(`not json`))
}

func TestLocalParser(t *testing.T) {
	p := NewLocalParser()
	ctx := context.Background()

	text, units, err := p.Parse(ctx, strings.NewReader("plain notes"), "notes.TXT")
	require.NoError(t, err)
	assert.Equal(t, "plain notes", text)
	assert.Equal(t, 1, units)

	_, _, err = p.Parse(ctx, strings.NewReader("\xff\xfe"), "bad.txt")
	assert.ErrorIs(t, err, ErrParse)

	_, _, err = p.Parse(ctx, strings.NewReader("x"), "report.docx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, _, err = p.Parse(ctx, strings.NewReader("definitely not a pdf"), "broken.pdf")
	assert.ErrorIs(t, err, ErrParse)
}

func TestNewFromConfig(t *testing.T) {
	p, err := NewFromConfig(config.DocumentConfig{Parser: "local"}, config.TikaConfig{})
	require.NoError(t, err)
	assert.IsType(t, LocalParser{}, p)

	p, err = NewFromConfig(config.DocumentConfig{}, config.TikaConfig{ServerURL: "http://tika:9998"})
	require.NoError(t, err)
	assert.IsType(t, &TikaParser{}, p)

	_, err = NewFromConfig(config.DocumentConfig{Parser: "ocr"}, config.TikaConfig{})
	assert.Error(t, err)
}
