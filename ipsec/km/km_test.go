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

package km

import (
	"testing"

	"github.com/lagopus/ipsecd/ipsec/sad"
	"github.com/stretchr/testify/suite"
)

type recorder struct {
	Base
	name string
	log  *[]string
}

func (r *recorder) Acquire(id sad.KMSeq, sa *sad.Association) {
	*r.log = append(*r.log, r.name+id.String())
}

type KMTestSuite struct {
	suite.Suite
	reg *Registry
	log []string
}

func (suite *KMTestSuite) SetupTest() {
	suite.reg = NewRegistry(3)
	suite.log = nil
}

func (suite *KMTestSuite) attach(name string) uint32 {
	id, err := suite.reg.Attach(&recorder{name: name, log: &suite.log})
	suite.Require().NoError(err)
	return id
}

func (suite *KMTestSuite) TestIDsInOrder() {
	suite.Equal(uint32(1), suite.attach("a"))
	suite.Equal(uint32(2), suite.attach("b"))
	suite.Equal(uint32(3), suite.attach("c"))
	suite.Equal(3, suite.reg.Len())

	_, err := suite.reg.Attach(&recorder{log: &suite.log})
	suite.Equal(ErrTooManyManagers, err)
	suite.Equal(3, suite.reg.Len())

	_, err = suite.reg.Attach(nil)
	suite.Error(err)
}

func (suite *KMTestSuite) TestEachOrder() {
	suite.attach("a")
	suite.attach("b")

	var ids []uint32
	suite.reg.Each(func(id uint32, km KeyManager) {
		ids = append(ids, id)
		km.Acquire(sad.KMSeq{KM: 0, Seq: id}, nil)
	})
	suite.Equal([]uint32{1, 2}, ids)
	suite.Equal([]string{"a(0,1)", "b(0,2)"}, suite.log)
}

func (suite *KMTestSuite) TestAttachDuringEach() {
	suite.attach("a")
	n := 0
	suite.reg.Each(func(uint32, KeyManager) {
		n++
		suite.attach("late")
	})
	suite.Equal(1, n)
	suite.Equal(2, suite.reg.Len())
}

func (suite *KMTestSuite) TestGet() {
	suite.attach("a")
	suite.NotNil(suite.reg.Get(1))
	suite.Nil(suite.reg.Get(0))
	suite.Nil(suite.reg.Get(2))
}

func (suite *KMTestSuite) TestBaseHooks() {
	var km KeyManager = &recorder{name: "x", log: &suite.log}
	km.GetSPI(sad.KMSeq{}, nil)
	km.Update(sad.KMSeq{}, nil)
	km.Add(sad.KMSeq{}, nil)
	km.Delete(sad.KMSeq{}, nil)
	km.Expire(sad.KMSeq{}, nil)
	km.Flush(sad.KMSeq{})
	suite.Empty(suite.log)
}

func (suite *KMTestSuite) TestDefaultMax() {
	r := NewRegistry(0)
	for i := 0; i < DefaultMaxManagers; i++ {
		_, err := r.Attach(&recorder{log: &suite.log})
		suite.Require().NoError(err)
	}
	_, err := r.Attach(&recorder{log: &suite.log})
	suite.Equal(ErrTooManyManagers, err)
}

func TestKMTestSuites(t *testing.T) {
	suite.Run(t, new(KMTestSuite))
}
