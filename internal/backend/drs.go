package backend

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/drs"
	drstypes "github.com/aws/aws-sdk-go-v2/service/drs/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/recoverly-io/recoverly/internal/errdefs"
	"github.com/recoverly-io/recoverly/internal/logging"
	"github.com/recoverly-io/recoverly/internal/model"
)

// DRS implements RecoveryBackend on AWS Elastic Disaster Recovery. Launch
// configuration is applied in two steps: the DRS launch settings, then the
// EC2 launch template DRS keeps per source server.
type DRS struct {
	drs    *drs.Client
	ec2    *ec2.Client
	policy *RetryPolicy
}

// NewDRS builds a DRS-backed RecoveryBackend from an account/region scoped
// AWS config.
func NewDRS(cfg aws.Config, policy *RetryPolicy) *DRS {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	return &DRS{
		drs:    drs.NewFromConfig(cfg),
		ec2:    ec2.NewFromConfig(cfg),
		policy: policy,
	}
}

func (d *DRS) SubmitJob(ctx context.Context, serverIDs []string, opts SubmitOptions) (string, error) {
	servers := make([]drstypes.StartRecoveryRequestSourceServer, 0, len(serverIDs))
	for _, id := range serverIDs {
		servers = append(servers, drstypes.StartRecoveryRequestSourceServer{
			SourceServerID: aws.String(id),
		})
	}

	var jobID string
	err := Call(ctx, d.policy, "SubmitJob", func() error {
		out, err := d.drs.StartRecovery(ctx, &drs.StartRecoveryInput{
			SourceServers: servers,
			IsDrill:       aws.Bool(opts.IsDrill),
		})
		if err != nil {
			return err
		}
		if out.Job == nil || out.Job.JobID == nil {
			return fmt.Errorf("backend returned no job id")
		}
		jobID = *out.Job.JobID
		return nil
	})
	if err != nil {
		// The backend is the final authority on quotas; its own rejection
		// surfaces the same way as our pre-submission check.
		if quotaErr := asQuotaRejection(err, len(serverIDs)); quotaErr != nil {
			return "", quotaErr
		}
		return "", err
	}
	logging.Info("submitted recovery job", "job", jobID, "servers", len(serverIDs), "drill", opts.IsDrill)
	return jobID, nil
}

func (d *DRS) DescribeJob(ctx context.Context, jobID string) (*Job, error) {
	var job *Job
	err := Call(ctx, d.policy, "DescribeJob", func() error {
		out, err := d.drs.DescribeJobs(ctx, &drs.DescribeJobsInput{
			Filters: &drstypes.DescribeJobsRequestFilters{JobIDs: []string{jobID}},
		})
		if err != nil {
			return err
		}
		if len(out.Items) == 0 {
			return fmt.Errorf("job %s not found", jobID)
		}
		job = convertJob(out.Items[0])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (d *DRS) ListActiveJobs(ctx context.Context) ([]*Job, error) {
	var jobs []*Job
	err := Call(ctx, d.policy, "ListActiveJobs", func() error {
		jobs = jobs[:0]
		var token *string
		for {
			out, err := d.drs.DescribeJobs(ctx, &drs.DescribeJobsInput{NextToken: token})
			if err != nil {
				return err
			}
			for _, item := range out.Items {
				j := convertJob(item)
				if j.Active() {
					jobs = append(jobs, j)
				}
			}
			if out.NextToken == nil {
				return nil
			}
			token = out.NextToken
		}
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (d *DRS) ListSourceServers(ctx context.Context) ([]SourceServer, error) {
	var servers []SourceServer
	err := Call(ctx, d.policy, "ListSourceServers", func() error {
		servers = servers[:0]
		var token *string
		for {
			out, err := d.drs.DescribeSourceServers(ctx, &drs.DescribeSourceServersInput{NextToken: token})
			if err != nil {
				return err
			}
			for _, item := range out.Items {
				servers = append(servers, convertSourceServer(item))
			}
			if out.NextToken == nil {
				return nil
			}
			token = out.NextToken
		}
	})
	if err != nil {
		return nil, err
	}
	return servers, nil
}

func (d *DRS) DescribeReplication(ctx context.Context) (*ReplicationSummary, error) {
	summary := &ReplicationSummary{}

	servers, err := d.ListSourceServers(ctx)
	if err != nil {
		if isUninitialized(err) {
			return &ReplicationSummary{Uninitialized: true}, nil
		}
		return nil, err
	}
	for _, s := range servers {
		if s.Replicating {
			summary.Replicating++
		}
	}

	err = Call(ctx, d.policy, "DescribeRecoveryInstances", func() error {
		count := 0
		var token *string
		for {
			out, err := d.drs.DescribeRecoveryInstances(ctx, &drs.DescribeRecoveryInstancesInput{NextToken: token})
			if err != nil {
				return err
			}
			count += len(out.Items)
			if out.NextToken == nil {
				summary.RecoveryInstances = count
				return nil
			}
			token = out.NextToken
		}
	})
	if err != nil {
		if isUninitialized(err) {
			return &ReplicationSummary{Uninitialized: true}, nil
		}
		return nil, err
	}

	return summary, nil
}

func (d *DRS) ApplyLaunchConfig(ctx context.Context, serverID string, cfg model.LaunchConfig) error {
	// Step 1: DRS launch settings.
	err := Call(ctx, d.policy, "UpdateLaunchConfiguration", func() error {
		input := &drs.UpdateLaunchConfigurationInput{
			SourceServerID:    aws.String(serverID),
			CopyPrivateIp:     aws.Bool(cfg.CopyPrivateIP),
			LaunchDisposition: drstypes.LaunchDispositionStarted,
		}
		if cfg.InstanceType != "" {
			input.TargetInstanceTypeRightSizingMethod = drstypes.TargetInstanceTypeRightSizingMethodNone
		}
		_, err := d.drs.UpdateLaunchConfiguration(ctx, input)
		return err
	})
	if err != nil {
		return err
	}

	// Step 2: the EC2 launch template behind the server. DRS launches from
	// the template's default version, so the new version must become default.
	var templateID string
	err = Call(ctx, d.policy, "GetLaunchConfiguration", func() error {
		out, err := d.drs.GetLaunchConfiguration(ctx, &drs.GetLaunchConfigurationInput{
			SourceServerID: aws.String(serverID),
		})
		if err != nil {
			return err
		}
		if out.Ec2LaunchTemplateID != nil {
			templateID = *out.Ec2LaunchTemplateID
		}
		return nil
	})
	if err != nil {
		return err
	}
	if templateID == "" {
		return &errdefs.BackendPermanent{
			Op:    "ApplyLaunchConfig",
			Cause: fmt.Errorf("server %s has no launch template", serverID),
		}
	}

	return Call(ctx, d.policy, "CreateLaunchTemplateVersion", func() error {
		data := launchTemplateData(cfg)
		created, err := d.ec2.CreateLaunchTemplateVersion(ctx, &ec2.CreateLaunchTemplateVersionInput{
			LaunchTemplateId:   aws.String(templateID),
			SourceVersion:      aws.String("$Latest"),
			LaunchTemplateData: data,
		})
		if err != nil {
			return err
		}
		if created.LaunchTemplateVersion == nil || created.LaunchTemplateVersion.VersionNumber == nil {
			return fmt.Errorf("launch template %s: no version returned", templateID)
		}
		version := strconv.FormatInt(*created.LaunchTemplateVersion.VersionNumber, 10)
		_, err = d.ec2.ModifyLaunchTemplate(ctx, &ec2.ModifyLaunchTemplateInput{
			LaunchTemplateId: aws.String(templateID),
			DefaultVersion:   aws.String(version),
		})
		return err
	})
}

func (d *DRS) TerminateInstance(ctx context.Context, recoveryInstanceID string) error {
	return Call(ctx, d.policy, "TerminateInstance", func() error {
		_, err := d.drs.TerminateRecoveryInstances(ctx, &drs.TerminateRecoveryInstancesInput{
			RecoveryInstanceIDs: []string{recoveryInstanceID},
		})
		return err
	})
}

func launchTemplateData(cfg model.LaunchConfig) *ec2types.RequestLaunchTemplateData {
	data := &ec2types.RequestLaunchTemplateData{}
	if cfg.InstanceType != "" {
		data.InstanceType = ec2types.InstanceType(cfg.InstanceType)
	}
	if cfg.IAMProfile != "" {
		data.IamInstanceProfile = &ec2types.LaunchTemplateIamInstanceProfileSpecificationRequest{
			Name: aws.String(cfg.IAMProfile),
		}
	}
	if cfg.SubnetID != "" || len(cfg.SecurityGroupIDs) > 0 || cfg.StaticIP != "" {
		nic := ec2types.LaunchTemplateInstanceNetworkInterfaceSpecificationRequest{
			DeviceIndex: aws.Int32(0),
		}
		if cfg.SubnetID != "" {
			nic.SubnetId = aws.String(cfg.SubnetID)
		}
		if len(cfg.SecurityGroupIDs) > 0 {
			nic.Groups = cfg.SecurityGroupIDs
		}
		if cfg.StaticIP != "" {
			nic.PrivateIpAddress = aws.String(cfg.StaticIP)
		}
		data.NetworkInterfaces = []ec2types.LaunchTemplateInstanceNetworkInterfaceSpecificationRequest{nic}
	}
	return data
}

func convertJob(item drstypes.Job) *Job {
	j := &Job{}
	if item.JobID != nil {
		j.JobID = *item.JobID
	}
	switch item.Status {
	case drstypes.JobStatusPending:
		j.Status = JobPending
	case drstypes.JobStatusStarted:
		j.Status = JobStarted
	case drstypes.JobStatusCompleted:
		j.Status = JobCompleted
	default:
		j.Status = JobStatus(item.Status)
	}
	for _, p := range item.ParticipatingServers {
		server := ParticipatingServer{LaunchStatus: string(p.LaunchStatus)}
		if p.SourceServerID != nil {
			server.SourceServerID = *p.SourceServerID
		}
		if p.RecoveryInstanceID != nil {
			server.RecoveryInstanceID = *p.RecoveryInstanceID
		}
		j.Servers = append(j.Servers, server)
	}
	return j
}

func convertSourceServer(item drstypes.SourceServer) SourceServer {
	s := SourceServer{Tags: item.Tags}
	if item.SourceServerID != nil {
		s.SourceServerID = *item.SourceServerID
	}
	if item.SourceProperties != nil && item.SourceProperties.IdentificationHints != nil &&
		item.SourceProperties.IdentificationHints.Hostname != nil {
		s.Hostname = *item.SourceProperties.IdentificationHints.Hostname
	}
	if item.DataReplicationInfo != nil {
		s.Replicating = item.DataReplicationInfo.DataReplicationState == drstypes.DataReplicationStateContinuous
	}
	return s
}

func isUninitialized(err error) bool {
	var uninit *drstypes.UninitializedAccountException
	return errors.As(err, &uninit)
}

// asQuotaRejection maps a backend-side quota rejection onto the same error
// kind as the admission engine's own checks.
func asQuotaRejection(err error, requested int) error {
	var svcQuota *drstypes.ServiceQuotaExceededException
	if errors.As(err, &svcQuota) {
		return &errdefs.QuotaExceeded{
			Limit:    "backend service quota",
			Observed: requested,
		}
	}
	return nil
}
