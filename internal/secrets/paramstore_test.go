package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	getOut  *ssm.GetParameterOutput
	getErr  error
	lastIn  *ssm.GetParameterInput
	callCnt int
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	f.callCnt++
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("/askforhelp/app_key"), Value: strPtr("s3cr3t"), Type: types.ParameterTypeSecureString,
	}}}
	p, err := NewParamStore(api)
	require.NoError(t, err)
	v, err := p.GetParameter(context.Background(), " /askforhelp/app_key ")
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", v)
	require.Equal(t, "/askforhelp/app_key", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p")}}}
	p, err := NewParamStore(api)
	require.NoError(t, err)
	_, err = p.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "missing value")
}

func TestGetParameter_APIError(t *testing.T) {
	p, err := NewParamStore(&fakeAPI{getErr: errors.New("AccessDenied")})
	require.NoError(t, err)
	_, err = p.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "AccessDenied")
}

func TestGetParameter_EmptyName(t *testing.T) {
	p, err := NewParamStore(&fakeAPI{})
	require.NoError(t, err)
	_, err = p.GetParameter(context.Background(), "  ")
	require.ErrorContains(t, err, "required")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&ParamStore{}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")
}

func TestNewParamStore_NilAPI(t *testing.T) {
	_, err := NewParamStore(nil)
	require.ErrorContains(t, err, "must not be nil")
}

func TestParameterName(t *testing.T) {
	require.Equal(t, "/askforhelp/prod/app_key", ParameterName("/askforhelp/prod/", "app_key"))
	require.Equal(t, "/askforhelp/app_key", ParameterName("askforhelp", "app_key"))
}

func TestResolve(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: strPtr("from-ssm")}}}
	p, err := NewParamStore(api)
	require.NoError(t, err)
	ctx := context.Background()

	v, err := Resolve(ctx, p, "/askforhelp", "app_key", "from-env")
	require.NoError(t, err)
	require.Equal(t, "from-env", v)
	require.Zero(t, api.callCnt)

	v, err = Resolve(ctx, p, "/askforhelp", "app_key", "")
	require.NoError(t, err)
	require.Equal(t, "from-ssm", v)
	require.Equal(t, "/askforhelp/app_key", *api.lastIn.Name)

	_, err = Resolve(ctx, nil, "", "app_key", "")
	require.ErrorContains(t, err, "not configured")
}
