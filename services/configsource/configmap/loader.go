package configmap

import (
	"fmt"
	"os"
	"path/filepath"

	k8sclient "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ResolveKubeconfigPath returns the effective kubeconfig file path.
// Prefers $KUBECONFIG if set; falls back to ~/.kube/config.
func ResolveKubeconfigPath() string {
	if path := os.Getenv("KUBECONFIG"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kube", "config")
}

// LoadClientset builds a clientset. Inside a pod with no explicit kubeconfig
// it uses the in-cluster service account; otherwise it loads the kubeconfig at
// path targeting contextName (empty = current context).
func LoadClientset(kubeconfigPath, contextName string) (k8sclient.Interface, error) {
	if kubeconfigPath == "" && contextName == "" {
		if restCfg, err := rest.InClusterConfig(); err == nil {
			clientset, err := k8sclient.NewForConfig(restCfg)
			if err != nil {
				return nil, fmt.Errorf("build in-cluster clientset: %w", err)
			}
			return clientset, nil
		}
		kubeconfigPath = ResolveKubeconfigPath()
	}

	loadingRules := &clientcmd.ClientConfigLoadingRules{
		ExplicitPath: kubeconfigPath,
	}
	overrides := &clientcmd.ConfigOverrides{}
	if contextName != "" {
		overrides.CurrentContext = contextName
	}

	cfg := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides)
	restCfg, err := cfg.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig %q: %w", kubeconfigPath, err)
	}

	clientset, err := k8sclient.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("build clientset from %q: %w", kubeconfigPath, err)
	}
	return clientset, nil
}
