package vimdriver

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	smithy "github.com/aws/smithy-go"

	"github.com/nfvorch/vimworker/internal/action"
)

func init() {
	Register(AWS, newAWSDriver)
}

// awsDriver is the one VIM variant backed by a genuine cloud SDK: EC2
// instance and VPC/subnet lifecycle calls via aws-sdk-go-v2, loading
// credentials the same way the reference codebase's own AWS client
// construction does (config.LoadDefaultConfig plus a static credentials
// provider built from the tenant's user/password tuple).
type awsDriver struct {
	cfg    Config
	client *ec2.Client
}

func newAWSDriver(cfg Config) (Driver, error) {
	if cfg.User == "" || cfg.Password == "" {
		return nil, fmt.Errorf("aws driver requires user (access key) and password (secret key)")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.User, cfg.Password, "")),
		awsconfig.WithRegion(regionFromExtra(cfg)),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return &awsDriver{cfg: cfg, client: ec2.NewFromConfig(awsCfg)}, nil
}

func regionFromExtra(cfg Config) string {
	if region, ok := cfg.Extra["region"]; ok && region != "" {
		return region
	}
	return "us-east-1"
}

func (d *awsDriver) NewVMInstance(ctx context.Context, spec VMSpec) (VMResult, error) {
	instanceType, _ := spec.Params["instance_type"].(string)
	imageID, _ := spec.Params["image_id"].(string)
	if instanceType == "" {
		instanceType = "t3.micro"
	}

	var subnetID string
	for _, id := range spec.NetIDs {
		subnetID = id
		break
	}

	out, err := d.client.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:      &imageID,
		InstanceType: types.InstanceType(instanceType),
		MinCount:     awsInt32(1),
		MaxCount:     awsInt32(1),
		SubnetId:     awsStringOrNil(subnetID),
	})
	if err != nil {
		return VMResult{}, translateAWSError("new_vminstance", err)
	}
	if len(out.Instances) == 0 {
		return VMResult{}, &action.DriverError{Op: "new_vminstance", Err: fmt.Errorf("aws returned no instances")}
	}
	return VMResult{VIMID: *out.Instances[0].InstanceId}, nil
}

func (d *awsDriver) DeleteVMInstance(ctx context.Context, vimID string, _ map[string]interface{}) error {
	_, err := d.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{vimID}})
	if err != nil {
		return translateAWSError("delete_vminstance", err)
	}
	return nil
}

func (d *awsDriver) NewNetwork(ctx context.Context, spec NetSpec) (NetResult, error) {
	cidr, _ := spec.Params["cidr"].(string)
	if cidr == "" {
		cidr = "10.0.0.0/24"
	}
	vpcID, _ := spec.Params["vpc_id"].(string)

	out, err := d.client.CreateSubnet(ctx, &ec2.CreateSubnetInput{
		CidrBlock: &cidr,
		VpcId:     awsStringOrNil(vpcID),
	})
	if err != nil {
		return NetResult{}, translateAWSError("new_network", err)
	}
	return NetResult{VIMID: *out.Subnet.SubnetId}, nil
}

func (d *awsDriver) FindNetworks(ctx context.Context, filter NetFilter) ([]NetInfo, error) {
	out, err := d.client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []types.Filter{{Name: awsStringOrNil("tag:Name"), Values: []string{filter.Name}}},
	})
	if err != nil {
		return nil, translateAWSError("find_networks", err)
	}
	infos := make([]NetInfo, 0, len(out.Subnets))
	for _, s := range out.Subnets {
		infos = append(infos, NetInfo{VIMID: *s.SubnetId, Status: string(s.State)})
	}
	return infos, nil
}

func (d *awsDriver) DeleteNetwork(ctx context.Context, vimID string) error {
	_, err := d.client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: &vimID})
	if err != nil {
		return translateAWSError("delete_network", err)
	}
	return nil
}

func (d *awsDriver) RefreshVMsStatus(ctx context.Context, vimIDs []string) (map[string]VMStatus, error) {
	if len(vimIDs) == 0 {
		return map[string]VMStatus{}, nil
	}
	out, err := d.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: vimIDs})
	if err != nil {
		return nil, translateAWSError("refresh_vms_status", err)
	}
	result := make(map[string]VMStatus, len(vimIDs))
	for _, r := range out.Reservations {
		for _, inst := range r.Instances {
			result[*inst.InstanceId] = VMStatus{
				VIMID:  *inst.InstanceId,
				Status: mapAWSInstanceState(string(inst.State.Name)),
			}
		}
	}
	return result, nil
}

func (d *awsDriver) RefreshNetsStatus(ctx context.Context, vimIDs []string) (map[string]NetStatus, error) {
	if len(vimIDs) == 0 {
		return map[string]NetStatus{}, nil
	}
	out, err := d.client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: vimIDs})
	if err != nil {
		return nil, translateAWSError("refresh_nets_status", err)
	}
	result := make(map[string]NetStatus, len(vimIDs))
	for _, s := range out.Subnets {
		result[*s.SubnetId] = NetStatus{VIMID: *s.SubnetId, Status: mapAWSSubnetState(string(s.State))}
	}
	return result, nil
}

// Service-function constructs have no AWS equivalent; the AWS variant is
// never selected for tenants whose actions include SFI/SF/classification/
// SFP items.
func (d *awsDriver) NewSFI(ctx context.Context, spec SFSpec) (string, error) {
	return "", fmt.Errorf("aws driver does not support service-function instances")
}
func (d *awsDriver) DeleteSFI(ctx context.Context, vimID string) error { return nil }
func (d *awsDriver) NewSF(ctx context.Context, spec SFSpec) (string, error) {
	return "", fmt.Errorf("aws driver does not support service functions")
}
func (d *awsDriver) DeleteSF(ctx context.Context, vimID string) error { return nil }
func (d *awsDriver) NewClassification(ctx context.Context, spec SFSpec) (string, error) {
	return "", fmt.Errorf("aws driver does not support classifications")
}
func (d *awsDriver) DeleteClassification(ctx context.Context, vimID string) error { return nil }
func (d *awsDriver) NewSFP(ctx context.Context, spec SFSpec) (string, error) {
	return "", fmt.Errorf("aws driver does not support service function paths")
}
func (d *awsDriver) DeleteSFP(ctx context.Context, vimID string) error { return nil }

func mapAWSInstanceState(state string) string {
	switch state {
	case "running":
		return "ACTIVE"
	case "pending":
		return "BUILD"
	case "terminated", "shutting-down":
		return "ERROR"
	default:
		return "BUILD"
	}
}

func mapAWSSubnetState(state string) string {
	if state == "available" {
		return "ACTIVE"
	}
	return "BUILD"
}

func translateAWSError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidInstanceID.NotFound", "InvalidSubnetID.NotFound":
			return &action.NotFoundError{Ref: op}
		}
	}
	return &action.DriverError{Op: op, Err: err}
}

func awsInt32(v int32) *int32 { return &v }

func awsStringOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
