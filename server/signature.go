package server

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-fed/httpsig"
	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// Signatures are generated by hand, the way Mastodon expects them.
// Verification goes through go-fed/httpsig.

const maxClockSkew = 12 * time.Hour

func computeDigest(body []byte) string {
	hash := sha256.New()
	hash.Write(body)
	return base64.StdEncoding.EncodeToString(hash.Sum(nil))
}

func requestTarget(r *http.Request) string {
	target := r.URL.Path
	if target == "" {
		target = "/"
	}
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return fmt.Sprintf("%s %s", strings.ToLower(r.Method), target)
}

func computeSigningString(signedHeaders []string, r *http.Request) string {
	signingStrings := make([]string, 0, len(signedHeaders))
	for _, hdr := range signedHeaders {
		var s string
		switch hdr {
		case "(request-target)":
			s = fmt.Sprintf("(request-target): %s", requestTarget(r))
		default:
			s = fmt.Sprintf("%s: %s", hdr, r.Header.Get(hdr))
		}
		signingStrings = append(signingStrings, s)
	}
	return strings.Join(signingStrings, "\n")
}

// sign an http request with a private key.
// Date and Digest are filled in if the request doesn't have them yet.
func sign(privateKey crypto.PrivateKey, pubKeyId string, r *http.Request) error {
	rsaKey, ok := privateKey.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("cannot sign with a %T", privateKey)
	}

	if r.Header.Get("Date") == "" {
		r.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	if r.Header.Get("Host") == "" {
		host := r.Host
		if host == "" {
			host = r.URL.Host
		}
		r.Header.Set("Host", host)
	}

	signedHeaders := []string{"(request-target)", "host", "date"}
	if r.Body != nil && r.Body != http.NoBody {
		// Read and replace the request body so we can create a digest
		body, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return fmt.Errorf("reading body to sign: %w", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		r.ContentLength = int64(len(body))
		if len(body) > 0 {
			if r.Header.Get("Digest") == "" {
				r.Header.Set("Digest", "SHA-256="+computeDigest(body))
			}
			signedHeaders = append(signedHeaders, "digest")
			if r.Header.Get("Content-Type") != "" {
				signedHeaders = append(signedHeaders, "content-type")
			}
		}
	}

	signingString := computeSigningString(signedHeaders, r)
	sigHash := sha256.Sum256([]byte(signingString))
	signature, err := rsa.SignPKCS1v15(rand.Reader, rsaKey, crypto.SHA256, sigHash[:])
	if err != nil {
		return err
	}
	r.Header.Set("Signature", fmt.Sprintf(`keyId="%s",algorithm="rsa-sha256",headers="%s",signature="%s"`,
		pubKeyId, strings.Join(signedHeaders, " "), base64.StdEncoding.EncodeToString(signature)))
	return nil
}

// keyOwner finds whoever published a signing key
type keyOwner interface {
	resolveKeyOwner(ctx context.Context, keyID string, refresh bool) (*activity.Actor, error)
}

// verify checks a signed request against the signer's published key and returns
// the signer's actor id. body is the already-read request body.
func verify(ctx context.Context, owners keyOwner, r *http.Request, body []byte) (string, error) {
	if r.Header.Get("Host") == "" {
		r.Header.Set("Host", r.Host)
	}
	verifier, err := httpsig.NewVerifier(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	keyID := verifier.KeyId()

	if err := checkDate(r); err != nil {
		return "", err
	}
	if err := checkDigest(r, body); err != nil {
		return "", err
	}

	// a failure with a cached key gets one more try with a fresh copy
	for _, refresh := range []bool{false, true} {
		actor, err := owners.resolveKeyOwner(ctx, keyID, refresh)
		if err != nil {
			return "", fmt.Errorf("%w: key %s: %v", ErrAuthentication, keyID, err)
		}
		pubKey, err := actor.ParsePublicKey()
		if err != nil {
			return "", fmt.Errorf("%w: key %s: %v", ErrAuthentication, keyID, err)
		}
		if err = verifier.Verify(pubKey, httpsig.RSA_SHA256); err == nil {
			telemetry.Trace("signature verified for %s %s by %s", r.Method, r.URL.Path, actor.ID)
			return actor.ID, nil
		}
		telemetry.Trace("signature from %s failed: %v", keyID, err)
	}
	return "", fmt.Errorf("%w: bad signature from %s", ErrAuthentication, keyID)
}

func hasSignature(r *http.Request) bool {
	return r.Header.Get("Signature") != "" ||
		strings.HasPrefix(strings.ToLower(r.Header.Get("Authorization")), "signature ")
}

// signedHeaders lists the headers parameter of the signature
func signedHeaders(r *http.Request) []string {
	sig := r.Header.Get("Signature")
	if auth := r.Header.Get("Authorization"); sig == "" && len(auth) > len("signature ") {
		sig = auth[len("signature "):]
	}
	for _, param := range strings.Split(sig, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && k == "headers" {
			return strings.Fields(strings.ToLower(strings.Trim(v, `"`)))
		}
	}
	return []string{"date"}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// checkDigest makes sure a body is covered by a signed digest that matches it
func checkDigest(r *http.Request, body []byte) error {
	if len(body) == 0 {
		return nil
	}
	if !contains(signedHeaders(r), "digest") {
		return fmt.Errorf("%w: body is not covered by the signature", ErrAuthentication)
	}
	expected := computeDigest(body)
	for _, d := range strings.Split(r.Header.Get("Digest"), ",") {
		algo, value, ok := strings.Cut(strings.TrimSpace(d), "=")
		if ok && strings.EqualFold(algo, "SHA-256") && value == expected {
			return nil
		}
	}
	return fmt.Errorf("%w: digest doesn't match the body", ErrAuthentication)
}

func checkDate(r *http.Request) error {
	date := r.Header.Get("Date")
	if date == "" {
		return nil
	}
	t, err := http.ParseTime(date)
	if err != nil {
		return fmt.Errorf("%w: bad date [%s]", ErrAuthentication, date)
	}
	if skew := time.Since(t); skew > maxClockSkew || skew < -maxClockSkew {
		return fmt.Errorf("%w: date [%s] is too far off", ErrAuthentication, date)
	}
	return nil
}
