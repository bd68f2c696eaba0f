// Package discovery enumerates upstream gRPC services via server
// reflection and maps their methods to HTTP routes by naming convention.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	rpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/grpcgate/grpcgate/config"
	"github.com/grpcgate/grpcgate/internal/logging"
	"github.com/grpcgate/grpcgate/internal/metrics"
	"github.com/grpcgate/grpcgate/internal/router"
)

// ChannelProvider hands out the shared channel for an upstream.
type ChannelProvider interface {
	Get(ctx context.Context, upstream string) (grpc.ClientConnInterface, error)
}

// Result summarizes one discovery round.
type Result struct {
	Entries          []router.Entry `json:"-"`
	RoutesDiscovered int            `json:"routes_discovered"`
	ServicesQueried  int            `json:"services_queried"`
	SkippedMethods   int            `json:"skipped_methods"`
	Errors           []string       `json:"errors"`
}

// Discoverer queries upstream reflection endpoints and produces route
// entries. An upstream whose reflection round fails keeps the entries
// from its last successful round.
type Discoverer struct {
	upstreams map[string]config.UpstreamConfig
	overrides map[string]config.RouteOverride
	channels  ChannelProvider
	timeout   time.Duration

	mu       sync.Mutex
	lastGood map[string][]router.Entry
}

// New creates a discoverer for the configured upstreams. Overrides are
// indexed by fully-qualified gRPC method.
func New(cfg *config.Config, channels ChannelProvider) *Discoverer {
	overrides := make(map[string]config.RouteOverride, len(cfg.Overrides))
	for _, ov := range cfg.Overrides {
		// Config accepts "pkg.Service/Method" with or without the
		// leading slash; the route table always uses the slashed form.
		key := ov.GRPCMethod
		if !strings.HasPrefix(key, "/") {
			key = "/" + key
		}
		overrides[key] = ov
	}
	return &Discoverer{
		upstreams: cfg.Upstreams,
		overrides: overrides,
		channels:  channels,
		timeout:   10 * time.Second,
		lastGood:  make(map[string][]router.Entry),
	}
}

// Refresh runs one discovery round across every auto-discover upstream.
// The returned entries are ordered override routes first, then discovered
// routes, so overrides win lenient deduplication downstream.
func (d *Discoverer) Refresh(ctx context.Context) Result {
	names := make([]string, 0, len(d.upstreams))
	for name, up := range d.upstreams {
		if up.AutoDiscover {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var res Result
	perUpstream := make(map[string][]router.Entry, len(names))

	for _, name := range names {
		entries, services, skipped, err := d.discoverUpstream(ctx, name)
		if err != nil {
			metrics.DiscoveryRuns.WithLabelValues(name, "failure").Inc()
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", name, err))

			d.mu.Lock()
			prior := d.lastGood[name]
			d.mu.Unlock()
			perUpstream[name] = prior

			logging.Warn("reflection discovery failed, retaining prior routes",
				zap.String("upstream", name),
				zap.Int("retained_routes", len(prior)),
				zap.Error(err))
			continue
		}

		metrics.DiscoveryRuns.WithLabelValues(name, "success").Inc()
		d.mu.Lock()
		d.lastGood[name] = entries
		d.mu.Unlock()
		perUpstream[name] = entries

		res.ServicesQueried += services
		res.SkippedMethods += skipped
	}

	// Overrides ahead of discovered routes, upstreams in sorted order.
	for _, name := range names {
		for _, e := range perUpstream[name] {
			if e.Source == router.SourceOverride {
				res.Entries = append(res.Entries, e)
			}
		}
	}
	for _, name := range names {
		for _, e := range perUpstream[name] {
			if e.Source == router.SourceDiscovered {
				res.Entries = append(res.Entries, e)
			}
		}
	}
	res.RoutesDiscovered = len(res.Entries)

	metrics.SkippedMethods.Set(float64(res.SkippedMethods))
	return res
}

// discoverUpstream runs reflection against one upstream and maps its
// unary methods to route entries.
func (d *Discoverer) discoverUpstream(ctx context.Context, name string) (entries []router.Entry, services, skipped int, err error) {
	conn, err := d.channels.Get(ctx, name)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("get channel: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	serviceNames, files, err := fetchDescriptors(ctx, conn)
	if err != nil {
		return nil, 0, 0, err
	}
	services = len(serviceNames)

	wanted := make(map[string]bool, len(serviceNames))
	for _, s := range serviceNames {
		wanted[s] = true
	}

	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		svcs := fd.Services()
		for i := 0; i < svcs.Len(); i++ {
			sd := svcs.Get(i)
			if !wanted[string(sd.FullName())] {
				continue
			}
			methods := sd.Methods()
			for j := 0; j < methods.Len(); j++ {
				md := methods.Get(j)
				if md.IsStreamingClient() || md.IsStreamingServer() {
					logging.Debug("skipping streaming method",
						zap.String("upstream", name),
						zap.String("method", string(md.FullName())))
					continue
				}

				shortName := string(md.Name())
				grpcMethod := fmt.Sprintf("/%s/%s", sd.FullName(), shortName)

				conv, ok := MapMethodName(shortName)
				if !ok {
					skipped++
					logging.Debug("method matches no naming convention",
						zap.String("upstream", name),
						zap.String("method", grpcMethod))
					continue
				}

				entry := router.Entry{
					HTTPMethod: conv.HTTPMethod,
					Path:       conv.Path,
					Upstream:   name,
					GRPCMethod: grpcMethod,
					Source:     router.SourceDiscovered,
				}
				if ov, found := d.overrides[grpcMethod]; found {
					if ov.HTTPMethod != "" {
						entry.HTTPMethod = strings.ToUpper(ov.HTTPMethod)
					}
					if ov.Path != "" {
						entry.Path = ov.Path
					}
					entry.Source = router.SourceOverride
				}
				entries = append(entries, entry)
			}
		}
		return true
	})

	return entries, services, skipped, nil
}

// fetchDescriptors lists an upstream's services over a reflection stream
// and resolves their file descriptors. Reflection and health services are
// filtered out.
func fetchDescriptors(ctx context.Context, conn grpc.ClientConnInterface) ([]string, *protoregistry.Files, error) {
	client := rpb.NewServerReflectionClient(conn)
	stream, err := client.ServerReflectionInfo(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open reflection stream: %w", err)
	}
	defer stream.CloseSend()

	if err := stream.Send(&rpb.ServerReflectionRequest{
		MessageRequest: &rpb.ServerReflectionRequest_ListServices{},
	}); err != nil {
		return nil, nil, fmt.Errorf("send list services: %w", err)
	}

	resp, err := stream.Recv()
	if err != nil {
		return nil, nil, fmt.Errorf("receive service list: %w", err)
	}
	listResp, ok := resp.MessageResponse.(*rpb.ServerReflectionResponse_ListServicesResponse)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected reflection response %T", resp.MessageResponse)
	}

	var serviceNames []string
	for _, svc := range listResp.ListServicesResponse.Service {
		if strings.HasPrefix(svc.Name, "grpc.reflection.") || strings.HasPrefix(svc.Name, "grpc.health.") {
			continue
		}
		serviceNames = append(serviceNames, svc.Name)
	}
	sort.Strings(serviceNames)

	seenFiles := make(map[string]bool)
	var fdProtos []*descriptorpb.FileDescriptorProto

	for _, svcName := range serviceNames {
		if err := stream.Send(&rpb.ServerReflectionRequest{
			MessageRequest: &rpb.ServerReflectionRequest_FileContainingSymbol{
				FileContainingSymbol: svcName,
			},
		}); err != nil {
			return nil, nil, fmt.Errorf("request descriptor for %s: %w", svcName, err)
		}

		resp, err := stream.Recv()
		if err != nil {
			return nil, nil, fmt.Errorf("receive descriptor for %s: %w", svcName, err)
		}
		fdResp, ok := resp.MessageResponse.(*rpb.ServerReflectionResponse_FileDescriptorResponse)
		if !ok {
			continue
		}

		for _, fdBytes := range fdResp.FileDescriptorResponse.FileDescriptorProto {
			fdProto := &descriptorpb.FileDescriptorProto{}
			if err := proto.Unmarshal(fdBytes, fdProto); err != nil {
				continue
			}
			if !seenFiles[fdProto.GetName()] {
				seenFiles[fdProto.GetName()] = true
				fdProtos = append(fdProtos, fdProto)
			}
		}
	}

	files, err := protodesc.NewFiles(&descriptorpb.FileDescriptorSet{File: fdProtos})
	if err != nil {
		return nil, nil, fmt.Errorf("build file descriptors: %w", err)
	}
	return serviceNames, files, nil
}
