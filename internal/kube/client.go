package kube

import (
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client bundles the kubernetes API client with the config it was built from.
type Client struct {
	Kubernetes kubernetes.Interface
	RestConfig *rest.Config
	InCluster  bool
}

// NewClient builds the kubernetes client using in-cluster config with optional kubeconfig fallback.
func NewClient(kubeconfigPath string) (*Client, error) {
	inCluster := true
	config, err := rest.InClusterConfig()
	if err != nil {
		inCluster = false
		if kubeconfigPath == "" {
			if env := os.Getenv("KUBECONFIG"); env != "" {
				kubeconfigPath = env
			} else {
				home := os.Getenv("HOME")
				kubeconfigPath = filepath.Join(home, ".kube", "config")
			}
		}
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("build kubeconfig: %w", err)
		}
	}

	kubeClient, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}

	return &Client{Kubernetes: kubeClient, RestConfig: config, InCluster: inCluster}, nil
}

// Host returns the API server address the client talks to.
func (c *Client) Host() string {
	if c == nil || c.RestConfig == nil {
		return ""
	}
	return c.RestConfig.Host
}
