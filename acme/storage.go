package acme

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/go-acme/lego/v4/certificate"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// ErrCertificateNotFound is returned by Load when nothing is stored for a
// domain.
var ErrCertificateNotFound = errors.New("certificate not found")

// CertificateStorage defines the interface for storing certificates.
type CertificateStorage interface {
	Store(ctx context.Context, domain string, cert *certificate.Resource) error
	Load(ctx context.Context, domain string) (*certificate.Resource, error)
	Delete(ctx context.Context, domain string) error
	List(ctx context.Context) ([]string, error)
}

// KubernetesSecretStorage stores certificates in TLS Secrets.
type KubernetesSecretStorage struct {
	client    kubernetes.Interface
	namespace string
}

// NewKubernetesSecretStorage creates a new Kubernetes Secret storage.
func NewKubernetesSecretStorage(client kubernetes.Interface, namespace string) *KubernetesSecretStorage {
	return &KubernetesSecretStorage{
		client:    client,
		namespace: namespace,
	}
}

const managedByLabel = "app.kubernetes.io/managed-by"

// Store saves a certificate to a Kubernetes Secret.
func (s *KubernetesSecretStorage) Store(ctx context.Context, domain string, cert *certificate.Resource) error {
	secretName, err := DomainToSecret(domain)
	if err != nil {
		return err
	}

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:        secretName,
			Namespace:   s.namespace,
			Labels:      map[string]string{managedByLabel: "bindzone"},
			Annotations: map[string]string{"bindzone.io/domain": domain, "bindzone.io/cert-url": cert.CertURL},
		},
		Type: corev1.SecretTypeTLS,
		Data: map[string][]byte{
			corev1.TLSCertKey:       cert.Certificate,
			corev1.TLSPrivateKeyKey: cert.PrivateKey,
			"ca.crt":                cert.IssuerCertificate,
		},
	}

	_, err = s.client.CoreV1().Secrets(s.namespace).Create(ctx, secret, metav1.CreateOptions{})
	if err != nil {
		if !apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("failed to create secret: %w", err)
		}
		_, err = s.client.CoreV1().Secrets(s.namespace).Update(ctx, secret, metav1.UpdateOptions{})
		if err != nil {
			return fmt.Errorf("failed to update secret: %w", err)
		}
	}
	return nil
}

// Load retrieves a certificate from a Kubernetes Secret.
func (s *KubernetesSecretStorage) Load(ctx context.Context, domain string) (*certificate.Resource, error) {
	secretName, err := DomainToSecret(domain)
	if err != nil {
		return nil, err
	}

	secret, err := s.client.CoreV1().Secrets(s.namespace).Get(ctx, secretName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, fmt.Errorf("%s: %w", domain, ErrCertificateNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}

	return &certificate.Resource{
		Domain:            domain,
		CertURL:           secret.Annotations["bindzone.io/cert-url"],
		Certificate:       secret.Data[corev1.TLSCertKey],
		PrivateKey:        secret.Data[corev1.TLSPrivateKeyKey],
		IssuerCertificate: secret.Data["ca.crt"],
	}, nil
}

// Delete removes a certificate Secret. Deleting a missing one succeeds.
func (s *KubernetesSecretStorage) Delete(ctx context.Context, domain string) error {
	secretName, err := DomainToSecret(domain)
	if err != nil {
		return err
	}

	err = s.client.CoreV1().Secrets(s.namespace).Delete(ctx, secretName, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

// List returns the domains with a stored certificate, sorted.
func (s *KubernetesSecretStorage) List(ctx context.Context) ([]string, error) {
	list, err := s.client.CoreV1().Secrets(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: managedByLabel + "=bindzone",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}

	var domains []string
	for _, secret := range list.Items {
		if domain, err := SecretToDomain(secret.Name); err == nil {
			domains = append(domains, domain)
		}
	}
	slices.Sort(domains)
	return domains, nil
}

// FileStorage stores each certificate in its own directory under basePath.
type FileStorage struct {
	basePath string
}

// NewFileStorage creates a new file-based certificate storage.
func NewFileStorage(basePath string) *FileStorage {
	return &FileStorage{
		basePath: basePath,
	}
}

const (
	certFile   = "certificate.crt"
	keyFile    = "private.key"
	issuerFile = "issuer.crt"
)

// Store saves a certificate to the file system.
func (s *FileStorage) Store(_ context.Context, domain string, cert *certificate.Resource) error {
	domainDir, err := s.dir(domain)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(domainDir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(filepath.Join(domainDir, certFile), cert.Certificate, 0o644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(filepath.Join(domainDir, keyFile), cert.PrivateKey, 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if len(cert.IssuerCertificate) > 0 {
		if err := os.WriteFile(filepath.Join(domainDir, issuerFile), cert.IssuerCertificate, 0o644); err != nil {
			return fmt.Errorf("failed to write issuer certificate: %w", err)
		}
	}
	return nil
}

// Load retrieves a certificate from the file system.
func (s *FileStorage) Load(_ context.Context, domain string) (*certificate.Resource, error) {
	domainDir, err := s.dir(domain)
	if err != nil {
		return nil, err
	}

	certData, err := os.ReadFile(filepath.Join(domainDir, certFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", domain, ErrCertificateNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	keyData, err := os.ReadFile(filepath.Join(domainDir, keyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	issuerData, _ := os.ReadFile(filepath.Join(domainDir, issuerFile)) // optional

	return &certificate.Resource{
		Domain:            domain,
		Certificate:       certData,
		PrivateKey:        keyData,
		IssuerCertificate: issuerData,
	}, nil
}

// Delete removes a certificate from the file system.
func (s *FileStorage) Delete(_ context.Context, domain string) error {
	domainDir, err := s.dir(domain)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(domainDir); err != nil {
		return fmt.Errorf("failed to delete certificate directory: %w", err)
	}
	return nil
}

// List returns the domains with a stored certificate, sorted.
func (s *FileStorage) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}

	var domains []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if domain, err := SecretToDomain(e.Name()); err == nil {
			domains = append(domains, domain)
		}
	}
	slices.Sort(domains)
	return domains, nil
}

func (s *FileStorage) dir(domain string) (string, error) {
	name, err := DomainToSecret(domain)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, name), nil
}

// NewCertificateStorage builds the storage selected by cfg. client is only
// used for kubernetes-secret and may be nil otherwise.
func NewCertificateStorage(cfg StorageConfig, client kubernetes.Interface) (CertificateStorage, error) {
	switch cfg.Type {
	case "", "file":
		if cfg.Path == "" {
			return nil, fmt.Errorf("certificate storage path is required")
		}
		return NewFileStorage(cfg.Path), nil
	case "kubernetes-secret":
		if client == nil {
			return nil, fmt.Errorf("kubernetes client is required for secret storage")
		}
		ns := cfg.Namespace
		if ns == "" {
			ns = "default"
		}
		return NewKubernetesSecretStorage(client, ns), nil
	default:
		return nil, fmt.Errorf("unknown certificate storage type %q", cfg.Type)
	}
}
