// internal/pkg/nacos/client.go
package nacos

import (
	"strconv"
	"strings"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultGroup = "DEFAULT_GROUP"

// Client wraps the nacos naming client with the namespace and group fixed at construction.
type Client struct {
	namingClient naming_client.INamingClient
	namespaceID  string
	groupName    string
}

// ParseServerConfigs turns "ip1:port1,ip2:port2" into nacos server configs.
func ParseServerConfigs(addrs string) ([]constant.ServerConfig, error) {
	var out []constant.ServerConfig
	for _, addr := range strings.Split(addrs, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		host, portStr, ok := strings.Cut(addr, ":")
		if !ok || host == "" {
			return nil, errors.Errorf("invalid nacos address %q", addr)
		}
		port, err := strconv.ParseUint(portStr, 10, 64)
		if err != nil {
			return nil, errors.Errorf("invalid port in nacos address %q", addr)
		}
		out = append(out, *constant.NewServerConfig(host, port))
	}
	if len(out) == 0 {
		return nil, errors.New("no nacos address given")
	}
	return out, nil
}

// NewClient connects to the nacos servers listed in addrs.
func NewClient(addrs, namespaceID, groupName string) (*Client, error) {
	if namespaceID == "" {
		log.Warn().Msg("nacos namespace not set, using the public namespace")
	}
	if groupName == "" {
		groupName = defaultGroup
	}

	serverConfigs, err := ParseServerConfigs(addrs)
	if err != nil {
		return nil, err
	}
	clientConfig := *constant.NewClientConfig(
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir("/tmp/nacos/log"),
		constant.WithCacheDir("/tmp/nacos/cache"),
		constant.WithLogLevel("warn"),
		constant.WithNamespaceId(namespaceID),
	)

	namingClient, err := clients.NewNamingClient(vo.NacosClientParam{
		ClientConfig:  &clientConfig,
		ServerConfigs: serverConfigs,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create nacos naming client")
	}

	log.Info().Str("addrs", addrs).Str("group", groupName).Msg("connected to nacos")
	return &Client{namingClient: namingClient, namespaceID: namespaceID, groupName: groupName}, nil
}

// RegisterServiceInstance registers an ephemeral instance; nacos drops it when heartbeats stop.
func (c *Client) RegisterServiceInstance(serviceName, ip string, port int) error {
	ok, err := c.namingClient.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          ip,
		Port:        uint64(port),
		ServiceName: serviceName,
		Weight:      10,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		GroupName:   c.groupName,
	})
	if err != nil {
		return errors.Wrapf(err, "register %s with nacos", serviceName)
	}
	if !ok {
		return errors.Errorf("nacos refused registration of %s", serviceName)
	}
	log.Info().Str("service", serviceName).Str("ip", ip).Int("port", port).Msg("registered with nacos")
	return nil
}

func (c *Client) DeregisterServiceInstance(serviceName, ip string, port int) error {
	_, err := c.namingClient.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          ip,
		Port:        uint64(port),
		ServiceName: serviceName,
		Ephemeral:   true,
		GroupName:   c.groupName,
	})
	if err != nil {
		return errors.Wrapf(err, "deregister %s from nacos", serviceName)
	}
	log.Info().Str("service", serviceName).Msg("deregistered from nacos")
	return nil
}

// DiscoverServiceInstance picks one healthy instance using nacos' weighted selection.
func (c *Client) DiscoverServiceInstance(serviceName string) (string, int, error) {
	instance, err := c.namingClient.SelectOneHealthyInstance(vo.SelectOneHealthInstanceParam{
		ServiceName: serviceName,
		GroupName:   c.groupName,
	})
	if err != nil {
		return "", 0, errors.Wrapf(err, "discover %s", serviceName)
	}
	if instance == nil {
		return "", 0, errors.Errorf("no healthy instance of %s", serviceName)
	}
	return instance.Ip, int(instance.Port), nil
}

func (c *Client) Close() {
	if c.namingClient != nil {
		c.namingClient.CloseClient()
	}
}
