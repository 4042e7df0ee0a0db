// Package dbconfig resolves the PostgreSQL connection string either from an
// explicit URL or from an RDS-style secret in AWS Secrets Manager.
package dbconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// ErrNoDatabase is returned when neither a URL nor a secret is configured.
var ErrNoDatabase = errors.New("DATABASE_URL or DATABASE_SECRET_ARN is required")

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// rdsSecret is the JSON layout RDS writes for managed master credentials.
type rdsSecret struct {
	Username string          `json:"username"`
	Password string          `json:"password"`
	Host     string          `json:"host"`
	Port     json.RawMessage `json:"port"`
	DBName   string          `json:"dbname"`
}

// ConnString returns dbURL when set, otherwise builds one from the secret.
func ConnString(ctx context.Context, dbURL, secretARN string) (string, error) {
	if dbURL != "" {
		return dbURL, nil
	}
	if secretARN == "" {
		return "", ErrNoDatabase
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load AWS config: %w", err)
	}
	return FromSecret(ctx, secretsmanager.NewFromConfig(cfg), secretARN)
}

// FromSecret fetches and decodes an RDS credentials secret.
func FromSecret(ctx context.Context, client SecretsAPI, secretARN string) (string, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return "", fmt.Errorf("get secret value: %w", err)
	}
	var s rdsSecret
	if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), &s); err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	if s.Host == "" || s.Username == "" {
		return "", fmt.Errorf("secret %s is missing host or username", secretARN)
	}

	port := 5432
	if len(s.Port) > 0 {
		// RDS stores the port as a number; hand-written secrets often use a string.
		raw := string(s.Port)
		if unq, err := strconv.Unquote(raw); err == nil {
			raw = unq
		}
		p, err := strconv.Atoi(raw)
		if err != nil {
			return "", fmt.Errorf("secret %s has invalid port %s", secretARN, s.Port)
		}
		port = p
	}
	dbName := s.DBName
	if dbName == "" {
		dbName = "postgres"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(s.Username, s.Password),
		Host:     fmt.Sprintf("%s:%d", s.Host, port),
		Path:     "/" + dbName,
		RawQuery: "sslmode=require",
	}
	return u.String(), nil
}
