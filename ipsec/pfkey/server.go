//
// Copyright 2017-2019 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package pfkey

import (
	"context"
	"net"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Server accepts key daemon connections on a unixpacket socket and
// serves each with the key manager.
type Server struct {
	km       *KeyManager
	sock     string
	listener *net.UnixListener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
}

// NewServer returns a server listening on sock once started.
func NewServer(km *KeyManager, sock string) *Server {
	return &Server{km: km, sock: sock}
}

func (s *Server) clean() {
	os.Remove(s.sock)
}

func (s *Server) handleConn(ctx context.Context, c net.Conn) {
	defer s.wg.Done()
	defer c.Close()

	if err := s.km.Serve(ctx, c); err != nil && ctx.Err() == nil {
		log.Err("%v: %v", c.RemoteAddr(), err)
	}
}

func (s *Server) mainLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Err("accept: %v", err)
			}
			return
		}
		log.Info("key daemon connected")
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// Start starts listening.
func (s *Server) Start() error {
	if s.running {
		return nil
	}
	s.clean()

	log.Info("Start pfkey server: %v", s.sock)

	var err error
	if s.listener, err = net.ListenUnix("unixpacket",
		&net.UnixAddr{Name: s.sock, Net: "unixpacket"}); err != nil {
		log.Err("Can't create listener: %v", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.mainLoop(ctx)
	return nil
}

// Stop closes the listener and every connection, and waits for the
// handlers to return.
func (s *Server) Stop() {
	if !s.running {
		return
	}
	defer s.clean()

	log.Info("Stop pfkey server")

	s.running = false
	s.cancel()
	s.listener.Close()
	s.wg.Wait()
}
