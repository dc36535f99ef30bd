// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package logic

import (
	"net/http"
	_ "net/http/pprof"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/lalgb/pkg/devmgr"
	"github.com/q191201771/lalgb/pkg/gb28181"
	"github.com/q191201771/lalgb/pkg/reactor"
)

type ServerManager struct {
	option Option
	config *Config

	registry      *reactor.Registry
	timer         *reactor.TimerService
	devMgr        *devmgr.Manager
	gbServer      *gb28181.Server
	httpApiServer *HttpApiServer
	promRegistry  *prometheus.Registry

	exitChan    chan struct{}
	disposeOnce sync.Once
}

func NewServerManager(modOption ...ModOption) *ServerManager {
	sm := &ServerManager{
		option:   defaultOption,
		exitChan: make(chan struct{}),
	}
	for _, fn := range modOption {
		fn(&sm.option)
	}

	rawContent := sm.option.ConfRawContent
	if len(rawContent) == 0 {
		rawContent = base.WrapReadConfigFile(sm.option.ConfFilename, DefaultConfFilenameList, nil)
	}
	sm.config = LoadConfAndInitLog(rawContent)
	base.LogoutStartInfo()

	sm.build()
	return sm
}

// newServerManagerWithConfig 不读文件也不初始化日志，测试中使用
func newServerManagerWithConfig(config *Config) *ServerManager {
	sm := &ServerManager{
		option:   defaultOption,
		config:   config,
		exitChan: make(chan struct{}),
	}
	sm.build()
	return sm
}

func (sm *ServerManager) build() {
	sm.registry = reactor.NewRegistry()
	sm.timer = reactor.NewTimerService(sm.registry, func(option *reactor.TimerOption) {
		option.TickMs = sm.config.TimerConfig.TickMs
	})

	var store devmgr.IStore
	if sm.config.DbConfig.Filename != "" {
		s, err := devmgr.OpenSqliteStore(sm.config.DbConfig.Filename)
		if err != nil {
			Log.Errorf("open device store failed, device will only be kept in memory. filename=%s, err=%+v",
				sm.config.DbConfig.Filename, err)
		} else {
			store = s
		}
	}
	sm.devMgr = devmgr.NewManager(store)
	if err := sm.devMgr.Load(); err != nil {
		Log.Errorf("load device failed. err=%+v", err)
	}
	for from, to := range sm.config.NetMap {
		if sm.devMgr.GetMapIp(from) != to {
			sm.devMgr.AddMapIp(from, to)
		}
	}

	sm.promRegistry = prometheus.NewRegistry()
	sm.promRegistry.MustRegister(collectors.NewGoCollector())
	sm.promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sm.registerRuntimeMetrics()

	gbConfig := gb28181.LoadServerConfig(sm.config)
	sm.gbServer = gb28181.NewServer(gbServerInstanceId, gbConfig, sm.registry, sm.timer, sm.devMgr, func(option *gb28181.Option) {
		if sm.config.HttpApiConfig.Enable {
			option.EventDstType = base.ServiceHttpServer
			option.EventDstId = httpApiInstanceId
		}
		option.Registerer = sm.promRegistry
	})

	if sm.config.HttpApiConfig.Enable {
		var gatherer prometheus.Gatherer
		if sm.config.MetricsConfig.Enable {
			gatherer = sm.promRegistry
		}
		sm.httpApiServer = NewHttpApiServer(sm.config.HttpApiConfig, gbConfig, sm.registry, sm.timer,
			sm.devMgr, gatherer, sm.config.MetricsConfig.Path)
	}
}

// registerRuntimeMetrics 总线和设备表的状态，采集时实时读取
func (sm *ServerManager) registerRuntimeMetrics() {
	factory := promauto.With(sm.promRegistry)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "lalgb",
		Subsystem: "reactor",
		Name:      "registered",
		Help:      "Number of reactors registered on the bus",
	}, func() float64 {
		return float64(sm.registry.Len())
	})
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "lalgb",
		Subsystem: "reactor",
		Name:      "post_succ_total",
		Help:      "Messages delivered by the bus",
	}, func() float64 {
		succ, _ := sm.registry.PostCount()
		return float64(succ)
	})
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "lalgb",
		Subsystem: "reactor",
		Name:      "post_fail_total",
		Help:      "Messages the bus could not route",
	}, func() float64 {
		_, fail := sm.registry.PostCount()
		return float64(fail)
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "lalgb",
		Subsystem: "devmgr",
		Name:      "devices",
		Help:      "Number of devices known to the device manager",
	}, func() float64 {
		return float64(sm.devMgr.Len())
	})
}

func (sm *ServerManager) RunLoop() error {
	go func() {
		_ = sm.timer.RunLoop()
	}()

	if sm.config.PprofConfig.Enable {
		go runWebPprof(sm.config.PprofConfig.Addr)
	}

	if err := sm.gbServer.Listen(); err != nil {
		Log.Errorf("gb28181 server listen failed. err=%+v", err)
		return err
	}
	go func() {
		_ = sm.gbServer.RunLoop()
	}()

	if sm.httpApiServer != nil {
		if err := sm.httpApiServer.Listen(); err != nil {
			Log.Errorf("http api server listen failed. addr=%s, err=%+v", sm.config.HttpApiConfig.Addr, err)
			return err
		}
		go func() {
			if err := sm.httpApiServer.RunLoop(); err != nil {
				Log.Error(err)
			}
		}()
	}

	<-sm.exitChan
	return nil
}

func (sm *ServerManager) Dispose() {
	sm.disposeOnce.Do(func() {
		Log.Debug("dispose server manager.")
		if sm.httpApiServer != nil {
			sm.httpApiServer.Dispose()
		}
		sm.gbServer.Dispose()
		sm.timer.Dispose()
		if err := sm.devMgr.Dispose(); err != nil {
			Log.Errorf("dispose device manager failed. err=%+v", err)
		}
		close(sm.exitChan)
	})
}

func (sm *ServerManager) Config() *Config {
	return sm.config
}

func (sm *ServerManager) DeviceManager() *devmgr.Manager {
	return sm.devMgr
}

// ---------------------------------------------------------------------------------------------------------------------

func runWebPprof(addr string) {
	Log.Infof("start web pprof listen. addr=%s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		Log.Error(err)
		return
	}
}
