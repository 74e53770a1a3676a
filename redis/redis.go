package redis

import (
	"context"

	goredis "github.com/go-redis/redis/v8"

	"github.com/HandsomeChen0407/cjdb/configuration"
	"github.com/HandsomeChen0407/cjdb/core"
	"github.com/HandsomeChen0407/cjdb/log"
)

type CJRedis struct {
	Owner            *CJRedisManager
	NameId           string
	Address          string
	Password         string
	DatabaseIndex    int
	IsConnectAtStart bool
	Connected        bool
	Context          context.Context
	Connection       *goredis.Client
}

type CJRedisManager struct {
	Redises map[string]*CJRedis
}

var Manager = CJRedisManager{
	Redises: map[string]*CJRedis{},
}

func (rs *CJRedisManager) NewRedis(nameId, address, password string, databaseIndex int, isConnectAtStart bool) *CJRedis {
	r := &CJRedis{
		Owner:            rs,
		NameId:           nameId,
		Address:          address,
		Password:         password,
		DatabaseIndex:    databaseIndex,
		IsConnectAtStart: isConnectAtStart,
		Connected:        false,
		Context:          core.RootContext,
	}
	rs.Redises[nameId] = r
	return r
}

// LoadFromConfiguration registers every redis instance named in the loaded
// configuration. It does not connect.
func (rs *CJRedisManager) LoadFromConfiguration() error {
	for _, o := range configuration.Manager.Options.Redis {
		rs.NewRedis(o.NameId, o.Address, o.Password, o.DatabaseIndex, true)
	}
	return nil
}

func (rs *CJRedisManager) ConnectAllAtStart() error {
	for _, r := range rs.Redises {
		if !r.IsConnectAtStart {
			continue
		}
		err := r.Connect()
		if err != nil {
			return err
		}
	}
	return nil
}

func (rs *CJRedisManager) DisconnectAll() error {
	for _, r := range rs.Redises {
		err := r.Disconnect()
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *CJRedis) Connect() error {
	if r.Connected {
		return nil
	}
	c := goredis.NewClient(&goredis.Options{
		Addr:     r.Address,
		Password: r.Password,
		DB:       r.DatabaseIndex,
	})
	err := c.Ping(r.Context).Err()
	if err != nil {
		return log.Log.ErrorAndCreateErrorf("REDIS_CONNECT_FAILED:%s:%v", r.NameId, err)
	}
	r.Connection = c
	r.Connected = true
	log.Log.Infof("Connected to redis %s at %s", r.NameId, r.Address)
	return nil
}

func (r *CJRedis) Disconnect() error {
	if !r.Connected {
		return nil
	}
	err := r.Connection.Close()
	if err != nil {
		return log.Log.WarnAndCreateErrorf("REDIS_DISCONNECT_FAILED:%s:%v", r.NameId, err)
	}
	r.Connection = nil
	r.Connected = false
	return nil
}
