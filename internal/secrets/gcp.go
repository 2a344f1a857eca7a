package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/sirupsen/logrus"
)

type accessFunc func(ctx context.Context, name string) ([]byte, error)

// GCPSecretManager resolves venue credentials from Google Secret Manager.
type GCPSecretManager struct {
	client    *secretmanager.Client
	access    accessFunc
	projectID string
	log       *logrus.Entry
}

func NewGCPSecretManager(ctx context.Context, projectID string, log *logrus.Entry) (*GCPSecretManager, error) {
	if projectID == "" {
		return nil, fmt.Errorf("Не задан project_id для Secret Manager")
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("Не удалось создать клиент Secret Manager: %w", err)
	}
	g := &GCPSecretManager{client: client, projectID: projectID, log: log}
	g.access = func(ctx context.Context, name string) ([]byte, error) {
		result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		if err != nil {
			return nil, err
		}
		return result.GetPayload().GetData(), nil
	}
	return g, nil
}

// GetSecret reads the latest version of secretName. A full resource path
// ("projects/.../versions/N") is used as is.
func (g *GCPSecretManager) GetSecret(ctx context.Context, secretName string) (string, error) {
	name := versionName(g.projectID, secretName)
	data, err := g.access(ctx, name)
	if err != nil {
		return "", fmt.Errorf("Не удалось прочитать секрет %s: %w", secretName, err)
	}
	g.log.WithField("secret", secretName).Debug("Секрет получен.")
	return strings.TrimSpace(string(data)), nil
}

func (g *GCPSecretManager) GetSecretWithDefault(ctx context.Context, secretName, defaultValue string) string {
	value, err := g.GetSecret(ctx, secretName)
	if err != nil {
		g.log.WithError(err).WithField("secret", secretName).Debug("Секрет недоступен, используется значение по умолчанию.")
		return defaultValue
	}
	return value
}

func (g *GCPSecretManager) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func versionName(projectID, secretName string) string {
	if strings.HasPrefix(secretName, "projects/") {
		if strings.Contains(secretName, "/versions/") {
			return secretName
		}
		return secretName + "/versions/latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, secretName)
}
