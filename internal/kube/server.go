package kube

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// DetectClusterServer tries to infer the public API server URL from cluster state.
// In-cluster clients only know the service address, which is useless to Osiris.
// Sources are attempted in order, returning the first non-empty value.
func DetectClusterServer(ctx context.Context, client kubernetes.Interface) (string, error) {
	sources := []func(context.Context, kubernetes.Interface) (string, error){
		serverFromClusterInfo,
		serverFromKubeadmConfig,
	}

	var errs []error
	for _, source := range sources {
		server, err := source(ctx, client)
		if err != nil {
			if apierrors.IsNotFound(err) || apierrors.IsForbidden(err) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		if server != "" {
			return server, nil
		}
	}

	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return "", fmt.Errorf("cluster server not discovered")
}

func serverFromClusterInfo(ctx context.Context, client kubernetes.Interface) (string, error) {
	cm, err := client.CoreV1().ConfigMaps("kube-public").Get(ctx, "cluster-info", metav1.GetOptions{})
	if err != nil {
		return "", err
	}
	if kubeconfig := cm.Data["kubeconfig"]; kubeconfig != "" {
		return serverFromKubeconfig(kubeconfig), nil
	}
	return "", nil
}

func serverFromKubeadmConfig(ctx context.Context, client kubernetes.Interface) (string, error) {
	cm, err := client.CoreV1().ConfigMaps("kube-system").Get(ctx, "kubeadm-config", metav1.GetOptions{})
	if err != nil {
		return "", err
	}
	cfgData := cm.Data["ClusterConfiguration"]
	if cfgData == "" {
		return "", nil
	}
	type clusterConfig struct {
		ControlPlaneEndpoint string `yaml:"controlPlaneEndpoint"`
	}
	var cfg clusterConfig
	if err := yaml.Unmarshal([]byte(cfgData), &cfg); err != nil {
		return "", fmt.Errorf("parse kubeadm ClusterConfiguration: %w", err)
	}
	endpoint := strings.TrimSpace(cfg.ControlPlaneEndpoint)
	if endpoint == "" {
		return "", nil
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	return endpoint, nil
}

func serverFromKubeconfig(content string) string {
	cfg, err := clientcmd.Load([]byte(content))
	if err != nil || cfg == nil {
		return ""
	}
	if cfg.CurrentContext != "" {
		if ctx, ok := cfg.Contexts[cfg.CurrentContext]; ok && ctx != nil {
			if cluster, ok := cfg.Clusters[ctx.Cluster]; ok && cluster != nil {
				if server := strings.TrimSpace(cluster.Server); server != "" {
					return server
				}
			}
		}
	}
	for _, cluster := range cfg.Clusters {
		if cluster == nil {
			continue
		}
		if server := strings.TrimSpace(cluster.Server); server != "" {
			return server
		}
	}
	return ""
}
