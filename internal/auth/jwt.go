package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ssepush-lite/internal/model"
)

// Claims of an SSE stream password. The subject is the installation id.
type Claims struct {
	InstallationID string `json:"sub"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
	// StreamURL is handed to clients as the credentials' uri.
	StreamURL string
}

func DefaultTokenConfig(secret, streamURL string) TokenConfig {
	return TokenConfig{
		Secret:    secret,
		Expiry:    time.Hour,
		Issuer:    "ssepush-lite",
		StreamURL: streamURL,
	}
}

func CreateToken(installationID string, cfg TokenConfig) (string, error) {
	return createTokenAt(installationID, cfg, time.Now())
}

func createTokenAt(installationID string, cfg TokenConfig, now time.Time) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("missing secret")
	}
	if installationID == "" {
		return "", errors.New("missing installation id")
	}
	if cfg.Expiry <= 0 {
		return "", errors.New("invalid expiry")
	}

	jtiBytes := make([]byte, 16)
	if _, err := rand.Read(jtiBytes); err != nil {
		return "", err
	}

	claims := Claims{
		InstallationID: installationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.Expiry)),
			ID:        hex.EncodeToString(jtiBytes),
			Subject:   installationID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

func VerifyToken(tokenString string, cfg TokenConfig) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("missing secret")
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.Secret), nil
	}, jwt.WithIssuer(cfg.Issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}

// IssueCredentials mints a fresh stream login for an installation.
func IssueCredentials(installationID string, cfg TokenConfig) (model.Credentials, error) {
	password, err := CreateToken(installationID, cfg)
	if err != nil {
		return model.Credentials{}, err
	}
	return model.Credentials{
		Username: installationID,
		Password: password,
		URI:      cfg.StreamURL,
	}, nil
}
